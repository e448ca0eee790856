package snmp3

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
)

// KeyExtension selects how a localized key shorter than a cipher key is
// lengthened.
type KeyExtension int

const (
	// KeyExtensionNone rejects keys that are too short.
	KeyExtensionNone KeyExtension = iota
	// KeyExtensionReeder appends PasswordToKey of the previous block
	// (draft-reeder-snmpv3-usm-3desede).
	KeyExtensionReeder
	// KeyExtensionBlumenthal appends the hash of the key built so far
	// (draft-blumenthal-aes-usm).
	KeyExtensionBlumenthal
)

func (e KeyExtension) String() string {
	switch e {
	case KeyExtensionReeder:
		return "reeder"
	case KeyExtensionBlumenthal:
		return "blumenthal"
	}
	return "none"
}

func extendKey(ext KeyExtension, auth AuthProtocol, key []byte, size int, engineID EngineID) ([]byte, error) {
	if len(key) >= size {
		return key[:size], nil
	}
	out := append(make([]byte, 0, size+auth.Size()), key...)
	last := key
	for len(out) < size {
		var (
			next []byte
			err  error
		)
		switch ext {
		case KeyExtensionReeder:
			next, err = auth.PasswordToKey(last, engineID)
		case KeyExtensionBlumenthal:
			next, err = auth.Hash(out)
		default:
			return nil, fmt.Errorf("key of %d bytes is shorter than the required %d", len(key), size)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, next...)
		last = next
	}
	return out[:size], nil
}

// KeyMaterial is what a privacy scheme needs to process one message.
type KeyMaterial struct {
	Key  []byte
	Salt []byte
	IV   []byte
}

// PrivacyScheme is one cipher family. KeyMaterial receives the key produced
// by localization and the message's security parameters; salt is the received
// msgPrivacyParameters, or nil when a fresh salt must be allocated.
type PrivacyScheme interface {
	KeyMaterial(cryptKey []byte, sp *SecurityParameters, auth AuthProtocol, salt []byte) (KeyMaterial, error)
	Encrypt(plain, key, iv []byte) ([]byte, error)
	Decrypt(ciphertext, key, iv []byte) ([]byte, error)
}

// Privacy binds a PrivacyScheme to the key length it needs and the way short
// keys are extended.
type Privacy struct {
	name      string
	keyLen    int
	extension KeyExtension
	scheme    PrivacyScheme
}

func NewPrivacy(name string, keyLen int, ext KeyExtension, scheme PrivacyScheme) *Privacy {
	return &Privacy{name: name, keyLen: keyLen, extension: ext, scheme: scheme}
}

func (p *Privacy) Name() string { return p.name }

func (p *Privacy) cryptKey(password string, engineID EngineID, auth AuthProtocol) ([]byte, error) {
	if err := checkPassword(password); err != nil {
		return nil, &EncryptionError{Reason: "privacy password", Err: err}
	}
	key, err := auth.PasswordToKey([]byte(password), engineID)
	if err != nil {
		return nil, &EncryptionError{Reason: "key derivation", Err: err}
	}
	key, err = extendKey(p.extension, auth, key, p.keyLen, engineID)
	if err != nil {
		return nil, &EncryptionError{Reason: p.name + " key", Err: err}
	}
	return key, nil
}

// Encrypt encrypts a serialized scoped PDU and stores the salt in
// sp.PrivacyParameters.
func (p *Privacy) Encrypt(scoped []byte, sp *SecurityParameters, auth AuthProtocol, password string) (EncryptedPDU, error) {
	key, err := p.cryptKey(password, sp.AuthoritativeEngineID, auth)
	if err != nil {
		return nil, err
	}
	km, err := p.scheme.KeyMaterial(key, sp, auth, nil)
	if err != nil {
		return nil, err
	}
	ct, err := p.scheme.Encrypt(scoped, km.Key, km.IV)
	if err != nil {
		return nil, &EncryptionError{Reason: p.name, Err: err}
	}
	sp.PrivacyParameters = km.Salt
	return EncryptedPDU(ct), nil
}

func (p *Privacy) Decrypt(ciphertext EncryptedPDU, sp *SecurityParameters, auth AuthProtocol, password string) ([]byte, error) {
	if n := len(sp.PrivacyParameters); n != saltLen {
		return nil, &EncryptionError{Reason: fmt.Sprintf("privacy parameters: expected %d bytes, got %d", saltLen, n)}
	}
	key, err := p.cryptKey(password, sp.AuthoritativeEngineID, auth)
	if err != nil {
		return nil, err
	}
	km, err := p.scheme.KeyMaterial(key, sp, auth, sp.PrivacyParameters)
	if err != nil {
		return nil, err
	}
	plain, err := p.scheme.Decrypt(ciphertext, km.Key, km.IV)
	if err != nil {
		return nil, &EncryptionError{Reason: p.name, Err: err}
	}
	return plain, nil
}

const saltLen = 8

// bootCounter is the 31 bit wrapping localBoot counter of the DES family.
type bootCounter struct {
	v atomic.Uint32
}

func newBootCounter() *bootCounter {
	c := &bootCounter{}
	var b [4]byte
	if _, err := rand.Read(b[:]); err == nil {
		c.v.Store(binary.BigEndian.Uint32(b[:]) & math.MaxInt32)
	}
	return c
}

func (c *bootCounter) next() uint32 {
	for {
		cur := c.v.Load()
		if c.v.CompareAndSwap(cur, (cur+1)&math.MaxInt32) {
			return cur
		}
	}
}

func (c *bootCounter) set(v uint32) { c.v.Store(v & math.MaxInt32) }

// saltCounter is the 64 bit localBoot counter of the AES family.
type saltCounter struct {
	v atomic.Uint64
}

func newSaltCounter() *saltCounter {
	c := &saltCounter{}
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		c.v.Store(binary.BigEndian.Uint64(b[:]))
	}
	return c
}

func (c *saltCounter) next() uint64 { return c.v.Add(1) - 1 }

func (c *saltCounter) set(v uint64) { c.v.Store(v) }

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
