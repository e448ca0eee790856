package snmp3

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
)

// AuthProtocol is a USM authentication protocol (RFC 3414, RFC 7860).
type AuthProtocol int

const (
	AuthProtocolNone AuthProtocol = iota
	AuthProtocolMD5
	AuthProtocolSHA1
	AuthProtocolSHA224
	AuthProtocolSHA256
	AuthProtocolSHA384
	AuthProtocolSHA512
)

const minPasswordLen = 8

func (a AuthProtocol) String() string {
	switch a {
	case AuthProtocolNone:
		return "none"
	case AuthProtocolMD5:
		return "md5"
	case AuthProtocolSHA1:
		return "sha1"
	case AuthProtocolSHA224:
		return "sha224"
	case AuthProtocolSHA256:
		return "sha256"
	case AuthProtocolSHA384:
		return "sha384"
	case AuthProtocolSHA512:
		return "sha512"
	}
	return fmt.Sprintf("auth(%d)", int(a))
}

func (a AuthProtocol) hashFunc() (func() hash.Hash, error) {
	switch a {
	case AuthProtocolMD5:
		return md5.New, nil
	case AuthProtocolSHA1:
		return sha1.New, nil
	case AuthProtocolSHA224:
		return sha256.New224, nil
	case AuthProtocolSHA256:
		return sha256.New, nil
	case AuthProtocolSHA384:
		return sha512.New384, nil
	case AuthProtocolSHA512:
		return sha512.New, nil
	}
	return nil, fmt.Errorf("%w: authentication protocol %s", ErrUnsupportedProtocol, a)
}

// Size is the digest size M of the underlying hash, which is also the length
// of a localized key.
func (a AuthProtocol) Size() int {
	switch a {
	case AuthProtocolMD5:
		return md5.Size
	case AuthProtocolSHA1:
		return sha1.Size
	case AuthProtocolSHA224:
		return sha256.Size224
	case AuthProtocolSHA256:
		return sha256.Size
	case AuthProtocolSHA384:
		return sha512.Size384
	case AuthProtocolSHA512:
		return sha512.Size
	}
	return 0
}

// DigestLength is the truncated length N carried in msgAuthenticationParameters.
func (a AuthProtocol) DigestLength() int {
	switch a {
	case AuthProtocolMD5, AuthProtocolSHA1:
		return 12
	case AuthProtocolSHA224:
		return 16
	case AuthProtocolSHA256:
		return 24
	case AuthProtocolSHA384:
		return 32
	case AuthProtocolSHA512:
		return 48
	}
	return 0
}

func (a AuthProtocol) Hash(b []byte) ([]byte, error) {
	newHash, err := a.hashFunc()
	if err != nil {
		return nil, err
	}
	h := newHash()
	h.Write(b)
	return h.Sum(nil), nil
}

const mega = 1 << 20

// PasswordToKey derives the key localized to engineID (RFC 3414 A.2, RFC 7860 9.3).
func (a AuthProtocol) PasswordToKey(password []byte, engineID EngineID) ([]byte, error) {
	newHash, err := a.hashFunc()
	if err != nil {
		return nil, err
	}
	plen := len(password)
	if plen == 0 {
		return nil, ErrPasswordTooShort
	}

	h := newHash()
	for i := mega / plen; i > 0; i-- {
		h.Write(password)
	}
	remain := mega % plen
	if remain > 0 {
		h.Write(password[:remain])
	}
	ku := h.Sum(nil)

	h.Reset()
	h.Write(ku)
	h.Write(engineID.Bytes())
	h.Write(ku)
	return h.Sum(nil), nil
}

func checkPassword(password string) error {
	if len(password) < minPasswordLen {
		return ErrPasswordTooShort
	}
	return nil
}

func (a AuthProtocol) mac(key, wire []byte) ([]byte, error) {
	newHash, err := a.hashFunc()
	if err != nil {
		return nil, err
	}
	m := hmac.New(newHash, key)
	m.Write(wire)
	return m.Sum(nil)[:a.DigestLength()], nil
}

// AuthenticateOutgoing fills msgAuthenticationParameters with the HMAC of the
// serialized message, computed while the field holds N zero bytes.
func (a AuthProtocol) AuthenticateOutgoing(msg *Message, password string) error {
	if err := checkPassword(password); err != nil {
		return &AuthenticationError{Reason: "authentication password", Err: err}
	}
	sp := msg.SecurityParameters
	if sp == nil {
		return &AuthenticationError{Reason: "message has no security parameters"}
	}
	key, err := a.PasswordToKey([]byte(password), sp.AuthoritativeEngineID)
	if err != nil {
		return &AuthenticationError{Reason: "key derivation", Err: err}
	}

	sp.AuthenticationParameters = make([]byte, a.DigestLength())
	wire, err := msg.Marshal()
	if err != nil {
		return err
	}
	digest, err := a.mac(key, wire)
	if err != nil {
		return &AuthenticationError{Reason: "digest", Err: err}
	}
	sp.AuthenticationParameters = digest
	return nil
}

// AuthenticateIncoming verifies msgAuthenticationParameters against the bytes
// the message was received as.
func (a AuthProtocol) AuthenticateIncoming(msg *Message, password string) error {
	if err := checkPassword(password); err != nil {
		return &AuthenticationError{Reason: "authentication password", Err: err}
	}
	sp := msg.SecurityParameters
	if sp == nil {
		return &AuthenticationError{Reason: "message has no security parameters"}
	}
	key, err := a.PasswordToKey([]byte(password), sp.AuthoritativeEngineID)
	if err != nil {
		return &AuthenticationError{Reason: "key derivation", Err: err}
	}

	wire := msg.raw
	if len(wire) == 0 {
		if wire, err = msg.Marshal(); err != nil {
			return err
		}
	}
	offset, length, err := authParamsSpan(wire)
	if err != nil {
		return err
	}
	if n := a.DigestLength(); length != n {
		return &AuthenticationError{Reason: fmt.Sprintf("digest length: expected %d bytes, got %d", n, length)}
	}

	zeroed := make([]byte, len(wire))
	copy(zeroed, wire)
	received := append([]byte(nil), zeroed[offset:offset+length]...)
	clear(zeroed[offset : offset+length])

	digest, err := a.mac(key, zeroed)
	if err != nil {
		return &AuthenticationError{Reason: "digest", Err: err}
	}
	if !hmac.Equal(received, digest) {
		return &AuthenticationError{Reason: "wrong digest"}
	}
	return nil
}
