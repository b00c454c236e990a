// Package secret encrypts credential passwords at rest with AES-256-GCM.
//
// Stored values have the form ENC:base64(nonce|ciphertext|tag). Values
// without the prefix are treated as legacy plaintext and returned unchanged
// by Open, so rows written before a key was configured stay readable.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptedPrefix marks a value as encrypted.
const EncryptedPrefix = "ENC:"

const (
	KeySize          = 32
	PBKDF2Iterations = 600000
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed: authentication tag mismatch")
	ErrNoKey             = errors.New("encrypted value but no credential key configured")
)

// Box seals and opens credential secrets. A Box with no key stores
// plaintext.
type Box struct {
	aead cipher.AEAD
}

// DeriveKey stretches a passphrase into an AES-256 key.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// New builds a Box from a passphrase. An empty passphrase yields a
// pass-through Box.
func New(passphrase, salt string) (*Box, error) {
	if passphrase == "" {
		return &Box{}, nil
	}
	return NewWithKey(DeriveKey(passphrase, []byte(salt)))
}

// NewWithKey builds a Box from a raw 32 byte key.
func NewWithKey(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("credential key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Enabled reports whether values are encrypted.
func (b *Box) Enabled() bool { return b != nil && b.aead != nil }

// Seal encrypts plaintext. Without a key it returns plaintext unchanged.
func (b *Box) Seal(plaintext string) (string, error) {
	if !b.Enabled() {
		return plaintext, nil
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a stored value.
func (b *Box) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, EncryptedPrefix) {
		return stored, nil
	}
	if !b.Enabled() {
		return "", ErrNoKey
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns+b.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}
	plain, err := b.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}
