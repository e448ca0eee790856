package snmp3

import (
	"context"
	"encoding/asn1"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent is an authoritative engine answering a Client over an in-memory
// Transport.
type fakeAgent struct {
	t     *testing.T
	id    EngineID
	boots uint32
	time  uint32
	usm   *UserSecurityModel
	opts  Options

	// notInTimeWindow is the number of requests answered with a
	// usmStatsNotInTimeWindows report.
	notInTimeWindow int
	errorStatus     ErrorStatus
	silent          bool
	noise           bool
	// plaintext answers requests with an unsecured Response.
	plaintext bool

	discoveries int
	requests    int
	queue       [][]byte
}

func newFakeAgent(t *testing.T) *fakeAgent {
	opts := authPrivOptions
	opts.Host = "manager"
	return &fakeAgent{
		t:     t,
		id:    agentEngineID(t),
		boots: 3,
		time:  7200,
		usm:   newTestUSM(newFakeClock()),
		opts:  opts,
	}
}

func (a *fakeAgent) Send(_ context.Context, b []byte) error {
	req, err := ParseMessage(b)
	require.NoError(a.t, err)
	if a.silent {
		return nil
	}
	if a.noise {
		a.queue = append(a.queue, []byte{0xff, 0x00})
		stray := reportMessage(a.id, a.boots, a.time, OIDUsmStatsUnknownEngineIDs)
		stray.Header.ID = req.Header.ID + 1
		a.push(stray)
	}

	if req.SecurityParameters.AuthoritativeEngineID.IsZero() {
		a.discoveries++
		a.push(a.report(req, OIDUsmStatsUnknownEngineIDs))
		return nil
	}
	if a.notInTimeWindow > 0 {
		a.notInTimeWindow--
		a.push(a.report(req, OIDUsmStatsNotInTimeWindows))
		return nil
	}

	opts := a.opts
	opts.EngineID = a.id
	in, err := a.usm.HandleIncomingMessage(req, opts)
	require.NoError(a.t, err)
	a.requests++
	scoped, ok := in.ScopedPDU()
	require.True(a.t, ok)

	flags := req.Header.Flags &^ MessageFlagReportable
	if a.plaintext {
		flags = 0
	}
	resp := NewMessage(
		Header{ID: req.Header.ID, MaxSize: defaultMaxSize, Flags: flags, SecurityModel: SecurityModelUSM},
		&SecurityParameters{
			AuthoritativeEngineID:    a.id,
			AuthoritativeEngineBoots: a.boots,
			AuthoritativeEngineTime:  a.time,
			UserName:                 req.SecurityParameters.UserName,
		},
		&ScopedPDU{
			ContextEngineID: a.id,
			ContextName:     scoped.ContextName,
			PDU: PDU{
				Type:             PDUTypeResponse,
				RequestID:        scoped.PDU.RequestID,
				ErrorStatus:      a.errorStatus,
				VariableBindings: []VarBind{{Name: oidSysDescr, Value: []byte("fake agent")}},
			},
		},
	)
	resp, err = a.usm.HandleOutgoingMessage(resp, opts)
	require.NoError(a.t, err)
	a.push(resp)
	return nil
}

func (a *fakeAgent) report(req *Message, oid asn1.ObjectIdentifier) *Message {
	r := reportMessage(a.id, a.boots, a.time, oid)
	r.Header.ID = req.Header.ID
	return r
}

func (a *fakeAgent) push(m *Message) {
	b, err := m.Marshal()
	require.NoError(a.t, err)
	a.queue = append(a.queue, b)
}

func (a *fakeAgent) Receive(ctx context.Context) ([]byte, error) {
	if len(a.queue) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	b := a.queue[0]
	a.queue = a.queue[1:]
	return b, nil
}

func newTestClient(t *testing.T, agent *fakeAgent, opts Options) *Client {
	c := NewClient(agent, newTestUSM(newFakeClock()), opts)
	c.ContextName = []byte{}
	return c
}

func sysDescrRequest() PDU {
	return PDU{Type: PDUTypeGetRequest, VariableBindings: []VarBind{{Name: oidSysDescr}}}
}

func requireSysDescr(t *testing.T, resp *Message) {
	t.Helper()
	scoped, ok := resp.ScopedPDU()
	require.True(t, ok)
	assert.Equal(t, PDUTypeResponse, scoped.PDU.Type)
	require.Len(t, scoped.PDU.VariableBindings, 1)
	assert.Equal(t, []byte("fake agent"), scoped.PDU.VariableBindings[0].Value)
}

func TestClientRequestAuthPriv(t *testing.T) {
	agent := newFakeAgent(t)
	c := newTestClient(t, agent, authPrivOptions)

	resp, err := c.Request(context.Background(), sysDescrRequest(), MessageFlagAuth|MessageFlagPriv)
	require.NoError(t, err)
	requireSysDescr(t, resp)
	assert.Equal(t, 1, agent.discoveries)
	assert.True(t, resp.SecurityParameters.AuthoritativeEngineID.Equal(agent.id))

	resp, err = c.Request(context.Background(), sysDescrRequest(), MessageFlagAuth|MessageFlagPriv)
	require.NoError(t, err)
	requireSysDescr(t, resp)
	assert.Equal(t, 1, agent.discoveries, "a fresh cache skips discovery")
	assert.Equal(t, 2, agent.requests)
}

func TestClientRequestRediscovery(t *testing.T) {
	agent := newFakeAgent(t)
	agent.notInTimeWindow = 1
	c := newTestClient(t, agent, authPrivOptions)

	resp, err := c.Request(context.Background(), sysDescrRequest(), MessageFlagAuth|MessageFlagPriv)
	require.NoError(t, err)
	requireSysDescr(t, resp)
	assert.Equal(t, 2, agent.discoveries)
}

func TestClientRequestRediscoveryExhausted(t *testing.T) {
	agent := newFakeAgent(t)
	agent.notInTimeWindow = 100
	c := newTestClient(t, agent, authPrivOptions)

	_, err := c.Request(context.Background(), sysDescrRequest(), MessageFlagAuth)
	assert.ErrorIs(t, err, ErrRediscoveryExhausted)
	var re *RediscoveryError
	assert.NotErrorAs(t, err, &re)
	assert.Equal(t, 2, agent.discoveries)
	assert.Zero(t, agent.requests)
}

func TestClientRequestNoAuthNoPriv(t *testing.T) {
	agent := newFakeAgent(t)
	c := newTestClient(t, agent, Options{Host: "agent", EngineID: agent.id, UserName: "public"})

	resp, err := c.Request(context.Background(), sysDescrRequest(), 0)
	require.NoError(t, err)
	requireSysDescr(t, resp)
	assert.Zero(t, agent.discoveries)
	assert.Equal(t, "public", resp.SecurityParameters.UserName)
}

func TestClientRequestErrorStatus(t *testing.T) {
	agent := newFakeAgent(t)
	agent.errorStatus = ErrorStatusNoSuchName
	c := newTestClient(t, agent, authPrivOptions)

	resp, err := c.Request(context.Background(), sysDescrRequest(), MessageFlagAuth)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorStatusNoSuchName, pe.Status)
	assert.NotNil(t, resp)
}

func TestClientRequestRejectsLowerSecurityLevel(t *testing.T) {
	for _, flags := range []MessageFlag{MessageFlagAuth, MessageFlagAuth | MessageFlagPriv} {
		t.Run(NewSecurityLevel(flags).String(), func(t *testing.T) {
			agent := newFakeAgent(t)
			agent.plaintext = true
			c := newTestClient(t, agent, authPrivOptions)

			resp, err := c.Request(context.Background(), sysDescrRequest(), flags)
			assert.Nil(t, resp)
			var se *SecurityModelError
			require.ErrorAs(t, err, &se)
			assert.Contains(t, se.Reason, "below request level "+NewSecurityLevel(flags).String())
			require.NotNil(t, se.Response)
			assert.Equal(t, MessageFlag(0), se.Response.Header.Flags)
			assert.Equal(t, 1, agent.requests)
		})
	}
}

func TestClientRequestSkipsNoise(t *testing.T) {
	agent := newFakeAgent(t)
	agent.noise = true
	c := newTestClient(t, agent, authPrivOptions)

	resp, err := c.Request(context.Background(), sysDescrRequest(), MessageFlagAuth|MessageFlagPriv)
	require.NoError(t, err)
	requireSysDescr(t, resp)
}

func TestClientRequestTimeout(t *testing.T) {
	agent := newFakeAgent(t)
	agent.silent = true
	c := newTestClient(t, agent, authPrivOptions)
	c.Timeout = 20 * time.Millisecond

	_, err := c.Request(context.Background(), sysDescrRequest(), MessageFlagAuth)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPacketTransport(t *testing.T) {
	server, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	conn, err := net.Dial("udp", server.LocalAddr().String())
	require.NoError(t, err)
	tr := NewPacketTransport(conn)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Send(ctx, []byte("ping")))

	buf := make([]byte, 16)
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, addr, err := server.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
	_, err = server.WriteTo([]byte("pong"), addr)
	require.NoError(t, err)

	got, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(got))

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err = tr.Receive(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
