package snmp3

import (
	"encoding/asn1"
	"fmt"
	"math"
	"math/big"
	"net"
)

type PDUType int

const (
	PDUTypeGetRequest PDUType = iota
	PDUTypeGetNextRequest
	PDUTypeResponse
	PDUTypeSetRequest
	_ // obsolete
	PDUTypeGetBulkRequest
	PDUTypeInformRequest
	PDUTypeSNMPV2Trap
	PDUTypeReport
)

func (t PDUType) String() string {
	switch t {
	case PDUTypeGetRequest:
		return "GetRequest"
	case PDUTypeGetNextRequest:
		return "GetNextRequest"
	case PDUTypeResponse:
		return "Response"
	case PDUTypeSetRequest:
		return "SetRequest"
	case PDUTypeGetBulkRequest:
		return "GetBulkRequest"
	case PDUTypeInformRequest:
		return "InformRequest"
	case PDUTypeSNMPV2Trap:
		return "SNMPv2Trap"
	case PDUTypeReport:
		return "Report"
	}
	return fmt.Sprintf("PDUType(%d)", int(t))
}

type ScopedPDU struct {
	ContextEngineID EngineID
	ContextName     []byte
	PDU             PDU
}

func (*ScopedPDU) isScopedPDUData() {}

type scopedPDUWire struct {
	CtxEngineID []byte
	ContextName []byte
	Data        asn1.RawValue
}

func (s *ScopedPDU) Unmarshal(d []byte) error {
	raw := scopedPDUWire{}
	if _, err := asn1.Unmarshal(d, &raw); err != nil {
		return &MalformedError{Field: "scoped PDU", Reason: err.Error()}
	}

	var engineID EngineID
	if len(raw.CtxEngineID) > 0 {
		var err error
		if engineID, err = NewEngineID(raw.CtxEngineID); err != nil {
			return err
		}
	}

	if raw.Data.Class != asn1.ClassContextSpecific {
		return &MalformedError{Field: "scoped PDU", Reason: "unknown PDU type"}
	}

	pdu := PDU{}
	if err := pdu.Unmarshal(raw.Data.FullBytes, PDUType(raw.Data.Tag)); err != nil {
		return err
	}

	s.ContextEngineID = engineID
	s.ContextName = raw.ContextName
	s.PDU = pdu
	return nil
}

func (s *ScopedPDU) Marshal() ([]byte, error) {
	pdu, err := s.PDU.Marshal()
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(scopedPDUWire{
		CtxEngineID: nonNil(s.ContextEngineID.Bytes()),
		ContextName: nonNil(s.ContextName),
		Data:        asn1.RawValue{FullBytes: pdu},
	})
}

// PDU is an RFC 3416 PDU. For GetBulkRequest the error status and index
// positions carry non-repeaters and max-repetitions.
type PDU struct {
	Type             PDUType
	RequestID        int32
	ErrorStatus      ErrorStatus
	ErrorIndex       int32
	VariableBindings []VarBind
}

type pduWire struct {
	ReqID            int
	ErrStatus        int
	ErrIdx           int
	VariableBindings []asn1.RawValue
}

func (p *PDU) Unmarshal(b []byte, typ PDUType) error {
	raw := pduWire{}
	if _, err := asn1.UnmarshalWithParams(b, &raw, fmt.Sprintf("tag:%d", typ)); err != nil {
		return &MalformedError{Field: "PDU", Reason: err.Error()}
	}

	if raw.ReqID < math.MinInt32 || raw.ReqID > math.MaxInt32 {
		return &MalformedError{Field: "PDU", Reason: "invalid request ID"}
	}
	if raw.ErrStatus < 0 || raw.ErrStatus > math.MaxInt32 {
		return &MalformedError{Field: "PDU", Reason: "invalid error status"}
	}
	if raw.ErrIdx < 0 || raw.ErrIdx > math.MaxInt32 {
		return &MalformedError{Field: "PDU", Reason: "invalid error index"}
	}

	varBinds := make([]VarBind, len(raw.VariableBindings))
	for i, rawVarBind := range raw.VariableBindings {
		if err := varBinds[i].Unmarshal(rawVarBind.FullBytes); err != nil {
			return err
		}
	}

	p.Type = typ
	p.RequestID = int32(raw.ReqID)
	p.ErrorStatus = ErrorStatus(raw.ErrStatus)
	p.ErrorIndex = int32(raw.ErrIdx)
	p.VariableBindings = varBinds
	return nil
}

func (p *PDU) Marshal() ([]byte, error) {
	varBinds := make([]asn1.RawValue, len(p.VariableBindings))
	for i, v := range p.VariableBindings {
		b, err := v.Marshal()
		if err != nil {
			return nil, err
		}
		varBinds[i] = asn1.RawValue{FullBytes: b}
	}
	return asn1.MarshalWithParams(pduWire{
		ReqID:            int(p.RequestID),
		ErrStatus:        int(p.ErrorStatus),
		ErrIdx:           int(p.ErrorIndex),
		VariableBindings: varBinds,
	}, fmt.Sprintf("tag:%d", p.Type))
}

func (p *PDU) NonRepeaters() int32   { return int32(p.ErrorStatus) }
func (p *PDU) MaxRepetitions() int32 { return p.ErrorIndex }

type (
	Counter32 uint32
	Gauge32   uint32
	TimeTicks uint32
	Opaque    []byte
	Counter64 uint64
)

type VarBind struct {
	Name  asn1.ObjectIdentifier
	Value interface{}
}

type varBindWire struct {
	Name  asn1.ObjectIdentifier
	Value asn1.RawValue
}

func (v *VarBind) Unmarshal(b []byte) error {
	raw := varBindWire{}
	if _, err := asn1.Unmarshal(b, &raw); err != nil {
		return &MalformedError{Field: "variable binding", Reason: err.Error()}
	}

	var value interface{}
	switch raw.Value.Class {
	case asn1.ClassContextSpecific:
		switch raw.Value.Tag {
		case ErrorValueNoSuchObject.Tag():
			value = ErrorValueNoSuchObject
		case ErrorValueNoSuchInstance.Tag():
			value = ErrorValueNoSuchInstance
		case ErrorValueEndOfMIBView.Tag():
			value = ErrorValueEndOfMIBView
		}
	case asn1.ClassApplication:
		switch raw.Value.Tag {
		case 0:
			if len(raw.Value.Bytes) != 4 {
				return &MalformedError{Field: "variable binding", Reason: "invalid IpAddress"}
			}
			value = net.IP(raw.Value.Bytes)
		case 1, 2, 3:
			var rv int64
			if _, err := asn1.UnmarshalWithParams(raw.Value.FullBytes, &rv, fmt.Sprintf("application,tag:%d", raw.Value.Tag)); err != nil {
				return &MalformedError{Field: "variable binding", Reason: err.Error()}
			}
			if rv < 0 || rv > math.MaxUint32 {
				return &MalformedError{Field: "variable binding", Reason: "invalid value"}
			}
			switch raw.Value.Tag {
			case 1:
				value = Counter32(rv)
			case 2:
				value = Gauge32(rv)
			default:
				value = TimeTicks(rv)
			}
		case 4:
			value = Opaque(raw.Value.Bytes)
		case 6:
			rv := new(big.Int)
			if _, err := asn1.UnmarshalWithParams(raw.Value.FullBytes, &rv, "application,tag:6"); err != nil {
				return &MalformedError{Field: "variable binding", Reason: err.Error()}
			}
			if rv.Sign() < 0 || !rv.IsUint64() {
				return &MalformedError{Field: "variable binding", Reason: "invalid value"}
			}
			value = Counter64(rv.Uint64())
		}
	case asn1.ClassUniversal:
		switch raw.Value.Tag {
		case asn1.TagInteger:
			var rv int
			if _, err := asn1.Unmarshal(raw.Value.FullBytes, &rv); err != nil {
				return &MalformedError{Field: "variable binding", Reason: err.Error()}
			}
			value = rv
		case asn1.TagOctetString:
			value = raw.Value.Bytes
		case asn1.TagOID:
			var rv asn1.ObjectIdentifier
			if _, err := asn1.Unmarshal(raw.Value.FullBytes, &rv); err != nil {
				return &MalformedError{Field: "variable binding", Reason: err.Error()}
			}
			value = rv
		case asn1.TagNull:
			value = nil
		default:
			value = ErrorValueUnSpecified
		}
	}

	v.Name = raw.Name
	v.Value = value
	return nil
}

func (v *VarBind) Marshal() ([]byte, error) {
	value, err := marshalValue(v.Value)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(varBindWire{Name: v.Name, Value: value})
}

func marshalValue(v interface{}) (asn1.RawValue, error) {
	var (
		b   []byte
		err error
	)
	switch v := v.(type) {
	case nil:
		return asn1.NullRawValue, nil
	case ErrorValue:
		return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: v.Tag(), Bytes: []byte{}}, nil
	case int:
		b, err = asn1.Marshal(v)
	case int32:
		b, err = asn1.Marshal(int64(v))
	case []byte:
		b, err = asn1.Marshal(v)
	case string:
		b, err = asn1.Marshal([]byte(v))
	case asn1.ObjectIdentifier:
		b, err = asn1.Marshal(v)
	case net.IP:
		ip := v.To4()
		if ip == nil {
			return asn1.RawValue{}, fmt.Errorf("IpAddress %s is not IPv4", v)
		}
		return asn1.RawValue{Class: asn1.ClassApplication, Tag: 0, Bytes: []byte(ip)}, nil
	case Counter32:
		b, err = asn1.MarshalWithParams(int64(v), "application,tag:1")
	case Gauge32:
		b, err = asn1.MarshalWithParams(int64(v), "application,tag:2")
	case TimeTicks:
		b, err = asn1.MarshalWithParams(int64(v), "application,tag:3")
	case Opaque:
		return asn1.RawValue{Class: asn1.ClassApplication, Tag: 4, Bytes: []byte(v)}, nil
	case Counter64:
		b, err = asn1.MarshalWithParams(new(big.Int).SetUint64(uint64(v)), "application,tag:6")
	default:
		return asn1.RawValue{}, fmt.Errorf("unsupported variable binding value %T", v)
	}
	if err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{FullBytes: b}, nil
}

type ErrorValue int

const (
	ErrorValueUnknown ErrorValue = iota
	ErrorValueUnSpecified
	ErrorValueNoSuchObject
	ErrorValueNoSuchInstance
	ErrorValueEndOfMIBView
)

func (e ErrorValue) Tag() int {
	switch e {
	case ErrorValueNoSuchObject:
		return 0
	case ErrorValueNoSuchInstance:
		return 1
	case ErrorValueEndOfMIBView:
		return 2
	}
	return 0
}
