package snmp3

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Transport moves encoded messages to and from one agent.
type Transport interface {
	Send(ctx context.Context, b []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// PacketTransport is a Transport over a connected datagram socket.
type PacketTransport struct {
	conn        net.Conn
	MaxRecvSize int
}

func NewPacketTransport(conn net.Conn) *PacketTransport {
	return &PacketTransport{conn: conn, MaxRecvSize: defaultMaxRecvSize}
}

func (t *PacketTransport) Send(ctx context.Context, b []byte) error {
	deadline, _ := ctx.Deadline()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := t.conn.Write(b)
	return err
}

func (t *PacketTransport) Receive(ctx context.Context) ([]byte, error) {
	deadline, _ := ctx.Deadline()
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	buf := make([]byte, t.MaxRecvSize)
	n, err := t.conn.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	return buf[:n], nil
}

func (t *PacketTransport) Close() error { return t.conn.Close() }

// Client sends requests to one agent as one user.
type Client struct {
	USM         *UserSecurityModel
	Transport   Transport
	Options     Options
	ContextName []byte
	// Timeout bounds a request when ctx has no deadline.
	Timeout time.Duration
}

func NewClient(t Transport, usm *UserSecurityModel, opts Options) *Client {
	return &Client{USM: usm, Transport: t, Options: opts, Timeout: 5 * time.Second}
}

// Request sends pdu with the given security flags and returns the verified
// response. A notInTimeWindow report triggers one rediscovery and one retry;
// a second one fails with ErrRediscoveryExhausted.
func (c *Client) Request(ctx context.Context, pdu PDU, flags MessageFlag) (*Message, error) {
	if _, ok := ctx.Deadline(); !ok && c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	rediscovered := false
	for {
		if err := c.Discover(ctx); err != nil {
			return nil, err
		}
		resp, err := c.exchange(ctx, pdu, flags)
		var re *RediscoveryError
		if !errors.As(err, &re) {
			return resp, err
		}
		if rediscovered {
			return nil, &SecurityModelError{Reason: "not in time window after rediscovery", Response: re.Response, Err: ErrRediscoveryExhausted}
		}
		rediscovered = true
	}
}

// Discover runs the discovery exchange unless the target engine is already
// synchronized.
func (c *Client) Discover(ctx context.Context) error {
	req := c.USM.GetDiscoveryRequest(c.Options)
	if req == nil {
		return nil
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	_, err = c.USM.HandleDiscoveryResponse(nil, resp, c.Options)
	return err
}

func (c *Client) exchange(ctx context.Context, pdu PDU, flags MessageFlag) (*Message, error) {
	sp := c.USM.securityParameters(c.Options)
	sp.UserName = c.Options.UserName
	if pdu.RequestID == 0 {
		pdu.RequestID = c.USM.NextMessageID()
	}
	msg := NewMessage(
		Header{
			ID:            c.USM.NextMessageID(),
			MaxSize:       defaultMaxSize,
			Flags:         flags | MessageFlagReportable,
			SecurityModel: SecurityModelUSM,
		},
		sp,
		&ScopedPDU{ContextEngineID: sp.AuthoritativeEngineID, ContextName: c.ContextName, PDU: pdu},
	)

	msg, err := c.USM.HandleOutgoingMessage(msg, c.Options)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, msg)
	if err != nil {
		return nil, err
	}
	resp, err = c.USM.HandleIncomingMessage(resp, c.Options)
	if resp == nil {
		return nil, err
	}
	// reports come back as errors above and may use a lower level
	if got, want := NewSecurityLevel(resp.Header.Flags), NewSecurityLevel(msg.Header.Flags); got < want {
		return nil, &SecurityModelError{
			Reason:   fmt.Sprintf("response security level %s is below request level %s", got, want),
			Response: resp,
		}
	}
	return resp, err
}

// roundTrip sends msg and waits for the message answering it, skipping
// undecodable datagrams and answers to other messages.
func (c *Client) roundTrip(ctx context.Context, msg *Message) (*Message, error) {
	b, err := msg.Marshal()
	if err != nil {
		return nil, err
	}
	if err := c.Transport.Send(ctx, b); err != nil {
		return nil, err
	}
	for {
		data, err := c.Transport.Receive(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := ParseMessage(data)
		if err != nil {
			logln("discarding datagram:", err)
			continue
		}
		if resp.Header.ID != msg.Header.ID {
			continue
		}
		return resp, nil
	}
}
