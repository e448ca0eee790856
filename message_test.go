package snmp3

import (
	"encoding/asn1"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	id := agentEngineID(t)
	sp := &SecurityParameters{
		AuthoritativeEngineID:    id,
		AuthoritativeEngineBoots: 4,
		AuthoritativeEngineTime:  500,
		UserName:                 "alice",
		AuthenticationParameters: []byte{},
		PrivacyParameters:        []byte{},
	}
	scoped := &ScopedPDU{
		ContextEngineID: id,
		ContextName:     []byte("ctx"),
		PDU: PDU{
			Type:      PDUTypeResponse,
			RequestID: 99,
			VariableBindings: []VarBind{
				{Name: oidSysDescr, Value: []byte("router")},
				{Name: asn1.ObjectIdentifier{1, 3, 6, 1, 2, 1, 1, 3, 0}, Value: TimeTicks(12345)},
				{Name: asn1.ObjectIdentifier{1, 3, 6, 1, 2, 1, 2, 2, 1, 10, 1}, Value: Counter32(4000000000)},
				{Name: asn1.ObjectIdentifier{1, 3, 6, 1, 2, 1, 2, 2, 1, 5, 1}, Value: Gauge32(1000000)},
				{Name: asn1.ObjectIdentifier{1, 3, 6, 1, 2, 1, 31, 1, 1, 1, 6, 1}, Value: Counter64(1 << 63)},
				{Name: asn1.ObjectIdentifier{1, 3, 6, 1, 2, 1, 4, 20, 1, 1}, Value: net.IPv4(10, 0, 0, 1).To4()},
				{Name: asn1.ObjectIdentifier{1, 3, 6, 1, 2, 1, 1, 2, 0}, Value: asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 8072}},
				{Name: asn1.ObjectIdentifier{1, 3, 6, 1, 2, 1, 1, 7, 0}, Value: 72},
				{Name: asn1.ObjectIdentifier{1, 3, 6, 1, 2, 1, 1, 9, 0}, Value: nil},
				{Name: asn1.ObjectIdentifier{1, 3, 6, 1, 2, 1, 1, 8, 0}, Value: ErrorValueNoSuchInstance},
			},
		},
	}
	msg := newTestMessage(MessageFlagReportable, sp, scoped)

	got := roundTrip(t, msg)
	assert.Equal(t, msg.Header, got.Header)
	assert.Equal(t, sp, got.SecurityParameters)
	gotScoped, ok := got.ScopedPDU()
	require.True(t, ok)
	assert.Equal(t, scoped, gotScoped)
	assert.NotEmpty(t, got.Raw())
}

func TestMessageEncryptedPayload(t *testing.T) {
	id := agentEngineID(t)
	sp := &SecurityParameters{AuthoritativeEngineID: id, UserName: "alice", AuthenticationParameters: make([]byte, 12), PrivacyParameters: make([]byte, 8)}
	msg := newTestMessage(MessageFlagAuth|MessageFlagPriv, sp, EncryptedPDU{1, 2, 3, 4})

	got := roundTrip(t, msg)
	enc, ok := got.EncryptedPDU()
	require.True(t, ok)
	assert.Equal(t, EncryptedPDU{1, 2, 3, 4}, enc)
	_, ok = got.ScopedPDU()
	assert.False(t, ok)

	got.ReplacePayload(getRequest(id))
	_, ok = got.EncryptedPDU()
	assert.False(t, ok)
	_, ok = got.ScopedPDU()
	assert.True(t, ok)
}

func TestParseMessageRejects(t *testing.T) {
	id := agentEngineID(t)
	encode := func(m *Message) []byte {
		b, err := m.Marshal()
		require.NoError(t, err)
		return b
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte{0x01, 0x02}},
		{"priv without auth", encode(newTestMessage(MessageFlagPriv, &SecurityParameters{}, EncryptedPDU{1}))},
		{"priv flag with plaintext", encode(newTestMessage(MessageFlagAuth|MessageFlagPriv, &SecurityParameters{}, getRequest(id)))},
		{"encrypted without priv flag", encode(newTestMessage(MessageFlagAuth, &SecurityParameters{}, EncryptedPDU{1}))},
		{"small max size", encode(NewMessage(Header{ID: 1, MaxSize: 483, SecurityModel: SecurityModelUSM}, &SecurityParameters{}, getRequest(id)))},
		{"negative message id", encode(NewMessage(Header{ID: -1, MaxSize: 484, SecurityModel: SecurityModelUSM}, &SecurityParameters{}, getRequest(id)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage(tt.data)
			var me *MalformedError
			assert.ErrorAs(t, err, &me)
		})
	}

	t.Run("version", func(t *testing.T) {
		b, err := asn1.Marshal(messageWire{
			Version:            1,
			GlobalData:         asn1.RawValue{FullBytes: []byte{0x30, 0x00}},
			SecurityParameters: []byte{},
			Data:               asn1.RawValue{FullBytes: []byte{0x30, 0x00}},
		})
		require.NoError(t, err)
		_, err = ParseMessage(b)
		var me *MalformedError
		require.ErrorAs(t, err, &me)
		assert.Contains(t, me.Reason, "version 1")
	})
}

func TestSecurityParametersUserNameLength(t *testing.T) {
	sp := &SecurityParameters{UserName: "abcdefghijklmnopqrstuvwxyz0123456"}
	_, err := sp.Marshal()
	var me *MalformedError
	assert.ErrorAs(t, err, &me)

	sp.UserName = sp.UserName[:32]
	_, err = sp.Marshal()
	assert.NoError(t, err)
}

func TestAuthParamsSpan(t *testing.T) {
	id := agentEngineID(t)
	digest := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	sp := &SecurityParameters{AuthoritativeEngineID: id, UserName: "alice", AuthenticationParameters: digest}
	b, err := newTestMessage(MessageFlagAuth, sp, getRequest(id)).Marshal()
	require.NoError(t, err)

	offset, length, err := authParamsSpan(b)
	require.NoError(t, err)
	assert.Equal(t, 12, length)
	assert.Equal(t, digest, b[offset:offset+length])

	_, _, err = authParamsSpan(b[:10])
	assert.Error(t, err)
}

func TestSecurityLevel(t *testing.T) {
	assert.Equal(t, SecurityLevelNoAuthNoPriv, NewSecurityLevel(MessageFlagReportable))
	assert.Equal(t, SecurityLevelAuthNoPriv, NewSecurityLevel(MessageFlagAuth))
	assert.Equal(t, SecurityLevelAuthPriv, NewSecurityLevel(MessageFlagAuth|MessageFlagPriv|MessageFlagReportable))
	assert.Equal(t, MessageFlagAuth|MessageFlagPriv, SecurityLevelAuthPriv.Flags())
	assert.Equal(t, "authNoPriv", SecurityLevelAuthNoPriv.String())

	_, err := NewMessageFlag([]byte{byte(MessageFlagPriv | MessageFlagReportable)})
	assert.Error(t, err)
	_, err = NewMessageFlag(nil)
	assert.Error(t, err)
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, "noSuchName", ErrorStatusNoSuchName.String())
	assert.Equal(t, "the requested name does not exist", ErrorStatusNoSuchName.Description())
	assert.Equal(t, "errorStatus(99)", ErrorStatus(99).String())
}
