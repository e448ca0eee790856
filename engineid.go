package snmp3

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// EngineIDFormat is the format octet of an RFC 3411 engine ID. The zero value
// marks the legacy RFC 1910 layout which carries no format octet.
type EngineIDFormat byte

const (
	EngineIDFormatLegacy EngineIDFormat = iota
	EngineIDFormatIPv4
	EngineIDFormatIPv6
	EngineIDFormatMAC
	EngineIDFormatText
	EngineIDFormatOctet
)

func (f EngineIDFormat) String() string {
	switch f {
	case EngineIDFormatLegacy:
		return "legacy"
	case EngineIDFormatIPv4:
		return "ipv4"
	case EngineIDFormatIPv6:
		return "ipv6"
	case EngineIDFormatMAC:
		return "mac"
	case EngineIDFormatText:
		return "text"
	case EngineIDFormatOctet:
		return "octet"
	}
	return "format(" + strconv.Itoa(int(f)) + ")"
}

// ParseEngineIDFormat maps a format name as returned by String back to its value.
func ParseEngineIDFormat(s string) (EngineIDFormat, error) {
	for f := EngineIDFormatLegacy; f <= EngineIDFormatOctet; f++ {
		if strings.EqualFold(s, f.String()) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown engine ID format %q", s)
}

const (
	minEngineIDLen = 5
	maxEngineIDLen = 32

	engineIDFormatBit = 0x80000000
	maxEnterprise     = 1<<31 - 1
)

// EngineID identifies an SNMP engine. It is immutable; the zero value is the
// empty engine ID used during discovery.
type EngineID struct {
	enterprise uint32
	format     EngineIDFormat
	data       string
	raw        string
}

// NewEngineID parses the binary form of an engine ID.
func NewEngineID(d []byte) (EngineID, error) {
	if len(d) < minEngineIDLen || len(d) > maxEngineIDLen {
		return EngineID{}, &MalformedError{
			Field:  "engine ID",
			Reason: fmt.Sprintf("length must be %d..%d bytes, got %d", minEngineIDLen, maxEngineIDLen, len(d)),
		}
	}
	if isFilled(d, 0x00) || isFilled(d, 0xff) {
		return EngineID{}, &MalformedError{Field: "engine ID", Reason: "must not be all 0x00 or all 0xff"}
	}

	e := EngineID{raw: string(d)}
	head := binary.BigEndian.Uint32(d[:4])
	if head&engineIDFormatBit == 0 {
		e.enterprise = head
		e.data = string(d[4:])
		return e, nil
	}

	e.enterprise = head &^ engineIDFormatBit
	e.format = EngineIDFormat(d[4])
	data, err := decodeEngineIDData(e.format, d[5:])
	if err != nil {
		return EngineID{}, err
	}
	e.data = data
	return e, nil
}

// ParseEngineIDHex parses an engine ID written as hex, with or without a 0x
// prefix.
func ParseEngineIDHex(s string) (EngineID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return EngineID{}, &MalformedError{Field: "engine ID", Reason: err.Error()}
	}
	return NewEngineID(b)
}

// NewFormattedEngineID builds an RFC 3411 engine ID from its textual payload:
// a dotted quad for IPv4, eight colon separated groups for IPv6, colon separated
// pairs for MAC, raw text, or hex (optionally space delimited) for octets.
func NewFormattedEngineID(enterprise uint32, format EngineIDFormat, data string) (EngineID, error) {
	if format == EngineIDFormatLegacy {
		return NewLegacyEngineID(enterprise, []byte(data))
	}
	if enterprise > maxEnterprise {
		return EngineID{}, &MalformedError{Field: "engine ID", Reason: fmt.Sprintf("enterprise number %d exceeds 31 bits", enterprise)}
	}
	payload, err := encodeEngineIDData(format, data)
	if err != nil {
		return EngineID{}, err
	}
	raw := make([]byte, 5, 5+len(payload))
	binary.BigEndian.PutUint32(raw, enterprise|engineIDFormatBit)
	raw[4] = byte(format)
	return NewEngineID(append(raw, payload...))
}

// NewLegacyEngineID builds an RFC 1910 style engine ID.
func NewLegacyEngineID(enterprise uint32, payload []byte) (EngineID, error) {
	if enterprise > maxEnterprise {
		return EngineID{}, &MalformedError{Field: "engine ID", Reason: fmt.Sprintf("enterprise number %d exceeds 31 bits", enterprise)}
	}
	raw := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(raw, enterprise)
	return NewEngineID(append(raw, payload...))
}

// NewRandomEngineID returns an octet formatted engine ID carrying a random UUID.
func NewRandomEngineID(enterprise uint32) (EngineID, error) {
	u := uuid.New()
	return NewFormattedEngineID(enterprise, EngineIDFormatOctet, hex.EncodeToString(u[:]))
}

func (e EngineID) Bytes() []byte {
	if e.raw == "" {
		return nil
	}
	return []byte(e.raw)
}

func (e EngineID) Enterprise() uint32     { return e.enterprise }
func (e EngineID) Format() EngineIDFormat { return e.format }

// Data is the decoded payload: the textual form for IPv4, IPv6, MAC, text and
// octet formats, the raw bytes for legacy engine IDs.
func (e EngineID) Data() string { return e.data }

func (e EngineID) IsZero() bool { return e.raw == "" }

func (e EngineID) Equal(o EngineID) bool {
	return e.raw == o.raw
}

func (e EngineID) String() string {
	return hex.EncodeToString([]byte(e.raw))
}

func (e EngineID) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func isFilled(d []byte, b byte) bool {
	for _, c := range d {
		if c != b {
			return false
		}
	}
	return true
}

func engineIDLengthError(format EngineIDFormat, expected, actual int) error {
	return &MalformedError{
		Field:  "engine ID",
		Reason: fmt.Sprintf("%s payload must be %d bytes, got %d", format, expected, actual),
	}
}

func decodeEngineIDData(format EngineIDFormat, p []byte) (string, error) {
	switch format {
	case EngineIDFormatIPv4:
		if len(p) != net.IPv4len {
			return "", engineIDLengthError(format, net.IPv4len, len(p))
		}
		return net.IP(p).String(), nil
	case EngineIDFormatIPv6:
		if len(p) != net.IPv6len {
			return "", engineIDLengthError(format, net.IPv6len, len(p))
		}
		groups := make([]string, 0, 8)
		for i := 0; i < len(p); i += 2 {
			groups = append(groups, strconv.FormatUint(uint64(binary.BigEndian.Uint16(p[i:])), 16))
		}
		return strings.Join(groups, ":"), nil
	case EngineIDFormatMAC:
		if len(p) != 6 {
			return "", engineIDLengthError(format, 6, len(p))
		}
		return net.HardwareAddr(p).String(), nil
	case EngineIDFormatText:
		return string(p), nil
	}
	// octet and the reserved/enterprise specific formats
	return hex.EncodeToString(p), nil
}

func encodeEngineIDData(format EngineIDFormat, data string) ([]byte, error) {
	switch format {
	case EngineIDFormatIPv4:
		ip := net.ParseIP(data).To4()
		if ip == nil {
			return nil, &MalformedError{Field: "engine ID", Reason: fmt.Sprintf("invalid IPv4 address %q", data)}
		}
		return ip, nil
	case EngineIDFormatIPv6:
		groups := strings.Split(data, ":")
		if len(groups) != 8 {
			return nil, &MalformedError{Field: "engine ID", Reason: fmt.Sprintf("IPv6 address %q must have 8 groups", data)}
		}
		p := make([]byte, 0, net.IPv6len)
		for _, g := range groups {
			v, err := strconv.ParseUint(g, 16, 16)
			if err != nil {
				return nil, &MalformedError{Field: "engine ID", Reason: fmt.Sprintf("invalid IPv6 group %q", g)}
			}
			p = binary.BigEndian.AppendUint16(p, uint16(v))
		}
		return p, nil
	case EngineIDFormatMAC:
		mac, err := net.ParseMAC(data)
		if err != nil || len(mac) != 6 {
			return nil, &MalformedError{Field: "engine ID", Reason: fmt.Sprintf("invalid MAC address %q", data)}
		}
		return mac, nil
	case EngineIDFormatText:
		return []byte(data), nil
	}

	var sb strings.Builder
	for _, tok := range strings.Fields(data) {
		if len(tok)%2 == 1 {
			sb.WriteByte('0')
		}
		sb.WriteString(tok)
	}
	p, err := hex.DecodeString(sb.String())
	if err != nil {
		return nil, &MalformedError{Field: "engine ID", Reason: fmt.Sprintf("invalid hex payload %q", data)}
	}
	return p, nil
}
