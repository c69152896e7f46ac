// Package security encrypts provider secrets at rest.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen    = 64
	ivLen      = 16
	tagLen     = 16
	keyLen     = 32
	iterations = 100_000

	masked = "••••••••"
)

// ErrDecrypt is returned for any ciphertext that cannot be opened.
var ErrDecrypt = errors.New("security: failed to decrypt data")

// Cipher encrypts with AES-256-GCM under a key derived per message with
// PBKDF2-SHA512. Output is base64(salt | iv | tag | ciphertext).
type Cipher struct {
	secret []byte
}

func NewCipher(key string) (*Cipher, error) {
	if len(key) < 32 {
		return nil, errors.New("security: encryption key must be at least 32 characters")
	}
	return &Cipher{secret: []byte(key)}, nil
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.secret, salt, iterations, keyLen, sha512.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivLen)
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	buf := make([]byte, saltLen+ivLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("security: random: %w", err)
	}
	salt, iv := buf[:saltLen], buf[saltLen:]

	gcm, err := c.aead(salt)
	if err != nil {
		return "", fmt.Errorf("security: init cipher: %w", err)
	}

	// Seal appends the tag after the ciphertext; it is stored before it.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	out := make([]byte, 0, saltLen+ivLen+tagLen+len(ct))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)

	return base64.StdEncoding.EncodeToString(out), nil
}

func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < saltLen+ivLen+tagLen {
		return "", ErrDecrypt
	}

	salt := raw[:saltLen]
	iv := raw[saltLen : saltLen+ivLen]
	tag := raw[saltLen+ivLen : saltLen+ivLen+tagLen]
	ct := raw[saltLen+ivLen+tagLen:]

	gcm, err := c.aead(salt)
	if err != nil {
		return "", ErrDecrypt
	}

	sealed := make([]byte, 0, len(ct)+tagLen)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// MaskSecret is what API responses show in place of a stored secret.
func MaskSecret() string {
	return masked
}
