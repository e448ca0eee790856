package snmp3

import (
	"context"
	"encoding/asn1"
	"errors"
	"fmt"
	"net"
	"time"
)

type Dispatcher struct {
	MaxRecvSize int64
	mpm         *MessageProcessingModel

	notificationReceiver NotificationReceiver
	limiter              *sourceLimiter
	now                  func() time.Time
}

func NewDispatcher(mpm *MessageProcessingModel, nr NotificationReceiver) *Dispatcher {
	return &Dispatcher{
		MaxRecvSize:          defaultMaxRecvSize,
		mpm:                  mpm,
		notificationReceiver: nr,
		now:                  time.Now,
	}
}

const defaultMaxRecvSize = 64 << 10

// SetRateLimit limits each sender address to rps packets per second with the
// given burst. Non-positive values disable limiting.
func (d *Dispatcher) SetRateLimit(rps float64, burst int) {
	d.limiter = newSourceLimiter(rps, burst)
}

// Listen reads datagrams from c until ctx is done or c fails, and hands every
// verified notification to the receiver. c is closed on return.
func (d *Dispatcher) Listen(ctx context.Context, c net.PacketConn) error {
	defer c.Close()
	if d.MaxRecvSize == 0 {
		d.MaxRecvSize = defaultMaxRecvSize
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-stop:
		}
	}()

	var tempDelay time.Duration
	buf := make([]byte, d.MaxRecvSize)
	for {
		l, addr, err := c.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				}
				logln("read error:", err, "retrying in", tempDelay)
				tempDelay = exponentialWait(tempDelay, 1*time.Second)
				continue
			}
			logln(err)
			return err
		}
		// Reset tempDelay
		tempDelay = 0

		if !d.limiter.Allow(hostOf(addr), d.now()) {
			d.metrics().drop("rate_limited")
			continue
		}
		data := make([]byte, l)
		copy(data, buf[:l])
		if err := checkVersion(data); err != nil {
			d.metrics().drop("version")
			logln(addr, err)
			continue
		}
		go d.handle(ctx, data, addr)
	}
}

func (d *Dispatcher) metrics() *Metrics {
	return d.mpm.usm.metrics
}

func (d *Dispatcher) handle(ctx context.Context, data []byte, addr net.Addr) {
	msg, err := d.mpm.PrepareDataElements(data, addr)
	if err != nil {
		d.metrics().drop("security")
		logln(addr, err)
		return
	}
	scoped, _ := msg.ScopedPDU()
	switch scoped.PDU.Type {
	case PDUTypeSNMPV2Trap:
		if d.notificationReceiver == nil {
			return
		}
		d.metrics().notification()
		if err := d.notificationReceiver.ProcessPDU(ctx, msg); err != nil {
			logln(addr, "notification:", err)
		}
	default:
		d.metrics().drop("pdu_type")
		logln(addr, "ignoring", scoped.PDU.Type)
	}
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func exponentialWait(delay, max time.Duration) (next time.Duration) {
	if delay >= max {
		delay = max
	}
	time.Sleep(delay)
	return delay * 2
}

func checkVersion(data []byte) error {
	var whole asn1.RawValue
	if _, err := asn1.Unmarshal(data, &whole); err != nil {
		return err
	}

	var version int
	if _, err := asn1.Unmarshal(whole.Bytes, &version); err != nil {
		return err
	}

	if version != Version3 {
		return fmt.Errorf("SNMP version %d is not implemented", version)
	}
	return nil
}
