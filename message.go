package snmp3

import (
	"encoding/asn1"
	"fmt"
	"math"
	"net"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

const Version3 = 3

type SecurityModel int32

const (
	SecurityModelUSM SecurityModel = 3
)

type MessageFlag byte

const (
	MessageFlagAuth MessageFlag = 1 << iota
	MessageFlagPriv
	MessageFlagReportable
)

func NewMessageFlag(f []byte) (MessageFlag, error) {
	if len(f) == 0 {
		return 0, &MalformedError{Field: "message flags", Reason: "empty"}
	}
	msgFlag := MessageFlag(f[0])
	if msgFlag&^MessageFlagReportable == MessageFlagPriv {
		return 0, &MalformedError{Field: "message flags", Reason: "privacy without authentication"}
	}
	return msgFlag, nil
}

func (f MessageFlag) Auth() bool       { return f&MessageFlagAuth != 0 }
func (f MessageFlag) Priv() bool       { return f&MessageFlagPriv != 0 }
func (f MessageFlag) Reportable() bool { return f&MessageFlagReportable != 0 }

type SecurityLevel int

const (
	SecurityLevelNoAuthNoPriv SecurityLevel = iota
	SecurityLevelAuthNoPriv
	SecurityLevelAuthPriv
)

func NewSecurityLevel(f MessageFlag) SecurityLevel {
	switch {
	case f.Auth() && f.Priv():
		return SecurityLevelAuthPriv
	case f.Auth():
		return SecurityLevelAuthNoPriv
	default:
		return SecurityLevelNoAuthNoPriv
	}
}

func (l SecurityLevel) String() string {
	switch l {
	case SecurityLevelAuthNoPriv:
		return "authNoPriv"
	case SecurityLevelAuthPriv:
		return "authPriv"
	}
	return "noAuthNoPriv"
}

// Flags returns the header flags for the level, without the reportable bit.
func (l SecurityLevel) Flags() MessageFlag {
	switch l {
	case SecurityLevelAuthNoPriv:
		return MessageFlagAuth
	case SecurityLevelAuthPriv:
		return MessageFlagAuth | MessageFlagPriv
	}
	return 0
}

const minMaxSize = 484

type Header struct {
	ID            int32
	MaxSize       int32
	Flags         MessageFlag
	SecurityModel SecurityModel
}

type headerWire struct {
	MsgID         int
	MaxSize       int
	Flags         []byte
	SecurityModel int
}

func (h *Header) Unmarshal(d []byte) error {
	raw := headerWire{}
	if _, err := asn1.Unmarshal(d, &raw); err != nil {
		return &MalformedError{Field: "message header", Reason: err.Error()}
	}

	if raw.MsgID < 0 || raw.MsgID > math.MaxInt32 {
		return &MalformedError{Field: "message header", Reason: fmt.Sprintf("invalid message ID %d", raw.MsgID)}
	}
	if raw.MaxSize < minMaxSize || raw.MaxSize > math.MaxInt32 {
		return &MalformedError{Field: "message header", Reason: fmt.Sprintf("invalid message max size %d", raw.MaxSize)}
	}
	if raw.SecurityModel < 1 || raw.SecurityModel > math.MaxInt32 {
		return &MalformedError{Field: "message header", Reason: fmt.Sprintf("invalid security model %d", raw.SecurityModel)}
	}

	msgFlags, err := NewMessageFlag(raw.Flags)
	if err != nil {
		return err
	}

	h.ID = int32(raw.MsgID)
	h.MaxSize = int32(raw.MaxSize)
	h.Flags = msgFlags
	h.SecurityModel = SecurityModel(raw.SecurityModel)
	return nil
}

func (h Header) Marshal() ([]byte, error) {
	return asn1.Marshal(headerWire{
		MsgID:         int(h.ID),
		MaxSize:       int(h.MaxSize),
		Flags:         []byte{byte(h.Flags)},
		SecurityModel: int(h.SecurityModel),
	})
}

const maxUserNameLen = 32

// SecurityParameters are the USM msgSecurityParameters of one message.
type SecurityParameters struct {
	AuthoritativeEngineID    EngineID
	AuthoritativeEngineBoots uint32
	AuthoritativeEngineTime  uint32
	UserName                 string
	AuthenticationParameters []byte
	PrivacyParameters        []byte
}

type usmWire struct {
	EngineID    []byte
	EngineBoots int
	EngineTime  int
	UserName    []byte
	AuthParam   []byte
	PrivParam   []byte
}

func (s *SecurityParameters) Unmarshal(data []byte) error {
	raw := usmWire{}
	if _, err := asn1.Unmarshal(data, &raw); err != nil {
		return &MalformedError{Field: "security parameters", Reason: err.Error()}
	}

	if raw.EngineBoots < 0 || raw.EngineBoots > math.MaxInt32 {
		return &MalformedError{Field: "security parameters", Reason: fmt.Sprintf("invalid engine boots %d", raw.EngineBoots)}
	}
	if raw.EngineTime < 0 || raw.EngineTime > math.MaxInt32 {
		return &MalformedError{Field: "security parameters", Reason: fmt.Sprintf("invalid engine time %d", raw.EngineTime)}
	}
	if len(raw.UserName) > maxUserNameLen {
		return &MalformedError{Field: "security parameters", Reason: fmt.Sprintf("user name is %d bytes, at most %d allowed", len(raw.UserName), maxUserNameLen)}
	}
	var engineID EngineID
	if len(raw.EngineID) > 0 {
		var err error
		if engineID, err = NewEngineID(raw.EngineID); err != nil {
			return err
		}
	}

	s.AuthoritativeEngineID = engineID
	s.AuthoritativeEngineBoots = uint32(raw.EngineBoots)
	s.AuthoritativeEngineTime = uint32(raw.EngineTime)
	s.UserName = string(raw.UserName)
	s.AuthenticationParameters = raw.AuthParam
	s.PrivacyParameters = raw.PrivParam
	return nil
}

func (s *SecurityParameters) Marshal() ([]byte, error) {
	if len(s.UserName) > maxUserNameLen {
		return nil, &MalformedError{Field: "security parameters", Reason: fmt.Sprintf("user name is %d bytes, at most %d allowed", len(s.UserName), maxUserNameLen)}
	}
	return asn1.Marshal(usmWire{
		EngineID:    nonNil(s.AuthoritativeEngineID.Bytes()),
		EngineBoots: int(s.AuthoritativeEngineBoots),
		EngineTime:  int(s.AuthoritativeEngineTime),
		UserName:    []byte(s.UserName),
		AuthParam:   nonNil(s.AuthenticationParameters),
		PrivParam:   nonNil(s.PrivacyParameters),
	})
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// ScopedPDUData is the msgData of a message: either a plaintext *ScopedPDU or
// an EncryptedPDU, never both.
type ScopedPDUData interface {
	isScopedPDUData()
}

// EncryptedPDU is an encrypted scoped PDU as carried on the wire.
type EncryptedPDU []byte

func (EncryptedPDU) isScopedPDUData() {}

// Message is an SNMPv3 message.
type Message struct {
	RemoteAddr         net.Addr
	Header             Header
	SecurityParameters *SecurityParameters

	payload ScopedPDUData
	raw     []byte
}

func NewMessage(h Header, sp *SecurityParameters, payload ScopedPDUData) *Message {
	return &Message{Header: h, SecurityParameters: sp, payload: payload}
}

func (m *Message) Payload() ScopedPDUData { return m.payload }

// ReplacePayload swaps the scoped PDU data, e.g. the plaintext recovered from
// an encrypted one. The received bytes stay available through Raw.
func (m *Message) ReplacePayload(p ScopedPDUData) {
	m.payload = p
}

func (m *Message) ScopedPDU() (*ScopedPDU, bool) {
	s, ok := m.payload.(*ScopedPDU)
	return s, ok && s != nil
}

func (m *Message) EncryptedPDU() (EncryptedPDU, bool) {
	e, ok := m.payload.(EncryptedPDU)
	return e, ok
}

// Raw returns the bytes the message was parsed from, nil for locally built
// messages.
func (m *Message) Raw() []byte { return m.raw }

type messageWire struct {
	Version            int
	GlobalData         asn1.RawValue
	SecurityParameters []byte
	Data               asn1.RawValue
}

func (m *Message) Marshal() ([]byte, error) {
	hdr, err := m.Header.Marshal()
	if err != nil {
		return nil, err
	}
	sp := m.SecurityParameters
	if sp == nil {
		sp = &SecurityParameters{}
	}
	usm, err := sp.Marshal()
	if err != nil {
		return nil, err
	}

	var data []byte
	switch p := m.payload.(type) {
	case *ScopedPDU:
		if p == nil {
			return nil, &MalformedError{Field: "message", Reason: "missing scoped PDU"}
		}
		data, err = p.Marshal()
	case EncryptedPDU:
		data, err = asn1.Marshal([]byte(p))
	default:
		return nil, &MalformedError{Field: "message", Reason: "missing scoped PDU"}
	}
	if err != nil {
		return nil, err
	}

	return asn1.Marshal(messageWire{
		Version:            Version3,
		GlobalData:         asn1.RawValue{FullBytes: hdr},
		SecurityParameters: usm,
		Data:               asn1.RawValue{FullBytes: data},
	})
}

func ParseMessage(d []byte) (*Message, error) {
	raw := messageWire{}
	if _, err := asn1.Unmarshal(d, &raw); err != nil {
		return nil, &MalformedError{Field: "message", Reason: err.Error()}
	}
	if raw.Version != Version3 {
		return nil, &MalformedError{Field: "message", Reason: fmt.Sprintf("unsupported SNMP version %d", raw.Version)}
	}

	m := &Message{raw: d}
	if err := m.Header.Unmarshal(raw.GlobalData.FullBytes); err != nil {
		return nil, err
	}
	if m.Header.SecurityModel == SecurityModelUSM {
		m.SecurityParameters = &SecurityParameters{}
		if err := m.SecurityParameters.Unmarshal(raw.SecurityParameters); err != nil {
			return nil, err
		}
	}

	if raw.Data.Class == asn1.ClassUniversal && raw.Data.Tag == asn1.TagOctetString {
		if !m.Header.Flags.Priv() {
			return nil, &MalformedError{Field: "message", Reason: "encrypted scoped PDU without privacy flag"}
		}
		m.payload = EncryptedPDU(raw.Data.Bytes)
		return m, nil
	}
	if m.Header.Flags.Priv() {
		return nil, &MalformedError{Field: "message", Reason: "privacy flag set but scoped PDU is not encrypted"}
	}
	s := &ScopedPDU{}
	if err := s.Unmarshal(raw.Data.FullBytes); err != nil {
		return nil, err
	}
	m.payload = s
	return m, nil
}

// authParamsSpan locates the content of msgAuthenticationParameters in an
// encoded message.
func authParamsSpan(wire []byte) (offset, length int, err error) {
	in := cryptobyte.String(wire)
	var msg, secParams, usm, auth cryptobyte.String
	if !in.ReadASN1(&msg, cbasn1.SEQUENCE) ||
		!msg.SkipASN1(cbasn1.INTEGER) ||
		!msg.SkipASN1(cbasn1.SEQUENCE) ||
		!msg.ReadASN1(&secParams, cbasn1.OCTET_STRING) ||
		!secParams.ReadASN1(&usm, cbasn1.SEQUENCE) ||
		!usm.SkipASN1(cbasn1.OCTET_STRING) ||
		!usm.SkipASN1(cbasn1.INTEGER) ||
		!usm.SkipASN1(cbasn1.INTEGER) ||
		!usm.SkipASN1(cbasn1.OCTET_STRING) ||
		!usm.ReadASN1(&auth, cbasn1.OCTET_STRING) {
		return 0, 0, &MalformedError{Field: "message", Reason: "cannot locate authentication parameters"}
	}
	// auth is a subslice of wire, so the capacities differ by its start offset.
	return cap(wire) - cap(auth), len(auth), nil
}
