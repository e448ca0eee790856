package snmp3

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"encoding/binary"
	"errors"
	"fmt"
)

// DESScheme is CBC-DES (RFC 3414 8.1.1). The 16 byte crypt key is split into
// the DES key and the pre-IV.
type DESScheme struct {
	localBoot *bootCounter
}

func NewDESScheme() *DESScheme {
	return &DESScheme{localBoot: newBootCounter()}
}

func (s *DESScheme) KeyMaterial(cryptKey []byte, sp *SecurityParameters, _ AuthProtocol, salt []byte) (KeyMaterial, error) {
	if len(cryptKey) < 16 {
		return KeyMaterial{}, &EncryptionError{Reason: fmt.Sprintf("des key: expected 16 bytes, got %d", len(cryptKey))}
	}
	if salt == nil {
		salt = bootSalt(sp.AuthoritativeEngineBoots, s.localBoot.next())
	}
	return KeyMaterial{
		Key:  cryptKey[:8],
		Salt: salt,
		IV:   xorBytes(cryptKey[8:16], salt),
	}, nil
}

func (s *DESScheme) Encrypt(plain, key, iv []byte) ([]byte, error) {
	block, err := des.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return encryptCBC(block, plain, iv), nil
}

func (s *DESScheme) Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := des.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return decryptCBC(block, ciphertext, iv)
}

// TripleDESScheme is 3DES-EDE in CBC mode (draft-reeder-snmpv3-usm-3desede).
// The 32 byte crypt key holds the 24 byte key followed by the pre-IV.
type TripleDESScheme struct {
	localBoot *bootCounter
}

func NewTripleDESScheme() *TripleDESScheme {
	return &TripleDESScheme{localBoot: newBootCounter()}
}

func (s *TripleDESScheme) KeyMaterial(cryptKey []byte, sp *SecurityParameters, auth AuthProtocol, salt []byte) (KeyMaterial, error) {
	if len(cryptKey) < 32 {
		return KeyMaterial{}, &EncryptionError{Reason: fmt.Sprintf("3des key: expected 32 bytes, got %d", len(cryptKey))}
	}
	if salt == nil {
		hashed, err := auth.PasswordToKey(bootSalt(sp.AuthoritativeEngineBoots, s.localBoot.next()), sp.AuthoritativeEngineID)
		if err != nil {
			return KeyMaterial{}, &EncryptionError{Reason: "3des salt", Err: err}
		}
		salt = hashed[:saltLen]
	}
	return KeyMaterial{
		Key:  cryptKey[:24],
		Salt: salt,
		IV:   xorBytes(cryptKey[24:32], salt),
	}, nil
}

func (s *TripleDESScheme) Encrypt(plain, key, iv []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, err
	}
	return encryptCBC(block, plain, iv), nil
}

func (s *TripleDESScheme) Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, err
	}
	return decryptCBC(block, ciphertext, iv)
}

// AESScheme is AES in CFB128 mode (RFC 3826) for any of the three key sizes.
type AESScheme struct {
	keyLen    int
	localBoot *saltCounter
}

func NewAESScheme(keyLen int) *AESScheme {
	return &AESScheme{keyLen: keyLen, localBoot: newSaltCounter()}
}

func (s *AESScheme) KeyMaterial(cryptKey []byte, sp *SecurityParameters, _ AuthProtocol, salt []byte) (KeyMaterial, error) {
	if len(cryptKey) < s.keyLen {
		return KeyMaterial{}, &EncryptionError{Reason: fmt.Sprintf("aes key: expected %d bytes, got %d", s.keyLen, len(cryptKey))}
	}
	if salt == nil {
		salt = make([]byte, saltLen)
		binary.BigEndian.PutUint64(salt, s.localBoot.next())
	}
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint32(iv, sp.AuthoritativeEngineBoots)
	binary.BigEndian.PutUint32(iv[4:], sp.AuthoritativeEngineTime)
	copy(iv[8:], salt)
	return KeyMaterial{Key: cryptKey[:s.keyLen], Salt: salt, IV: iv}, nil
}

func (s *AESScheme) Encrypt(plain, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plain))
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(out, plain)
	return out, nil
}

func (s *AESScheme) Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(out, ciphertext)
	return out, nil
}

func bootSalt(boots, localBoot uint32) []byte {
	salt := make([]byte, saltLen)
	binary.BigEndian.PutUint32(salt, boots)
	binary.BigEndian.PutUint32(salt[4:], localBoot)
	return salt
}

// encryptCBC zero pads plain to the block size.
func encryptCBC(block cipher.Block, plain, iv []byte) []byte {
	bs := block.BlockSize()
	n := len(plain)
	if r := n % bs; r != 0 {
		n += bs - r
	}
	padded := make([]byte, n)
	copy(padded, plain)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(padded, padded)
	return padded
}

func decryptCBC(block cipher.Block, ciphertext, iv []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.New("ciphertext is not a multiple of the block size")
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}
