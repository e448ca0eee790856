package snmp3

import (
	"encoding/asn1"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var oidSysDescr = asn1.ObjectIdentifier{1, 3, 6, 1, 2, 1, 1, 1, 0}

func mustEngineID(t *testing.T, b []byte) EngineID {
	t.Helper()
	id, err := NewEngineID(b)
	require.NoError(t, err)
	return id
}

func agentEngineID(t *testing.T) EngineID {
	return mustEngineID(t, []byte{0x80, 0x00, 0x1f, 0x88, 0x04, 'a', 'g', 'e', 'n', 't'})
}

func otherEngineID(t *testing.T) EngineID {
	return mustEngineID(t, []byte{0x80, 0x00, 0x1f, 0x88, 0x04, 'o', 't', 'h', 'e', 'r'})
}

func getRequest(id EngineID) *ScopedPDU {
	return &ScopedPDU{
		ContextEngineID: id,
		ContextName:     []byte{},
		PDU: PDU{
			Type:             PDUTypeGetRequest,
			RequestID:        7,
			VariableBindings: []VarBind{{Name: oidSysDescr}},
		},
	}
}

func newTestMessage(flags MessageFlag, sp *SecurityParameters, payload ScopedPDUData) *Message {
	return NewMessage(Header{ID: 42, MaxSize: defaultMaxSize, Flags: flags, SecurityModel: SecurityModelUSM}, sp, payload)
}

// roundTrip encodes m and parses it back, as a receiver would see it.
func roundTrip(t *testing.T, m *Message) *Message {
	t.Helper()
	b, err := m.Marshal()
	require.NoError(t, err)
	parsed, err := ParseMessage(b)
	require.NoError(t, err)
	return parsed
}

func reportMessage(id EngineID, boots, engineTime uint32, oid asn1.ObjectIdentifier) *Message {
	return newTestMessage(0,
		&SecurityParameters{AuthoritativeEngineID: id, AuthoritativeEngineBoots: boots, AuthoritativeEngineTime: engineTime},
		&ScopedPDU{
			ContextEngineID: id,
			PDU: PDU{
				Type:             PDUTypeReport,
				RequestID:        7,
				VariableBindings: []VarBind{{Name: oid, Value: Counter32(1)}},
			},
		},
	)
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var authPrivOptions = Options{
	Host:         "agent",
	UserName:     "alice",
	AuthProtocol: "sha1",
	AuthPassword: "authpass123",
	PrivProtocol: "aes128",
	PrivPassword: "privpass123",
}

// counterValue reads a counter from reg. An empty label matches the first
// series of the family.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
