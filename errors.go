package snmp3

import (
	"errors"
	"fmt"
)

var (
	ErrPasswordTooShort     = errors.New("password must be at least 8 bytes")
	ErrUnsupportedProtocol  = errors.New("unsupported protocol")
	ErrUnknownEngineID      = errors.New("unknown engine ID")
	ErrEngineIDMismatch     = errors.New("engine ID mismatch")
	ErrRediscoveryExhausted = errors.New("rediscovery already attempted")
)

// MalformedError reports wire data or engine IDs that cannot be decoded.
type MalformedError struct {
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	return "malformed " + e.Field + ": " + e.Reason
}

type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return "authentication failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

type EncryptionError struct {
	Reason string
	Err    error
}

func (e *EncryptionError) Error() string {
	if e.Err != nil {
		return "encryption failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "encryption failed: " + e.Reason
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// RediscoveryError is returned when the authoritative engine reports that a
// message fell outside its time window. Callers rediscover once and retry.
type RediscoveryError struct {
	Response *Message
}

func (e *RediscoveryError) Error() string {
	return "not in time window: rediscovery needed"
}

// SecurityModelError covers failures of the security model itself: reports
// other than a stale time window, unknown or mismatched engines, and
// unsupported security models.
type SecurityModelError struct {
	Reason   string
	Response *Message
	Err      error
}

func (e *SecurityModelError) Error() string {
	if e.Err != nil {
		return "security model failure: " + e.Reason + ": " + e.Err.Error()
	}
	return "security model failure: " + e.Reason
}

func (e *SecurityModelError) Unwrap() error { return e.Err }

// ProtocolError carries a response whose error status or report could not be
// mapped to a security condition.
type ProtocolError struct {
	Status   ErrorStatus
	Index    int32
	Response *Message
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s (%d) at index %d: %s", e.Status, int(e.Status), e.Index, e.Status.Description())
}

func newProtocolError(resp *Message) *ProtocolError {
	pe := &ProtocolError{Status: ErrorStatusGenErr, Response: resp}
	if s, ok := resp.ScopedPDU(); ok && s.PDU.ErrorStatus != ErrorStatusNoError {
		pe.Status = s.PDU.ErrorStatus
		pe.Index = s.PDU.ErrorIndex
	}
	return pe
}
