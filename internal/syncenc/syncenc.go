// Package syncenc encrypts bulk-sync payloads before they leave the
// client. The scheme is AES-256-GCM with a key derived from the
// configured base64 secret via HKDF-SHA256, so a short or low-entropy
// configured secret never becomes the raw cipher key. Seal prepends the
// random nonce to the ciphertext; Open expects the same layout.
package syncenc

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

	"golang.org/x/crypto/hkdf"
)

// keyInfo binds derived keys to this protocol so the same configured
// secret used elsewhere can never produce the same AES key.
const keyInfo = "aura-sync bulk payload v1"

// Sentinel errors.
var (
	// ErrEmptyKey is returned by New for a missing or empty secret.
	ErrEmptyKey = errors.New("encryption key is empty")

	// ErrCiphertextShort is returned by Open when the input is too
	// short to contain a nonce.
	ErrCiphertextShort = errors.New("ciphertext shorter than nonce")
)

// Cipher seals and opens sync payloads. Safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New derives the payload key from a base64-encoded secret and returns
// a ready Cipher. Whitespace around the secret is ignored.
func New(base64Secret string) (*Cipher, error) {
	secret, err := base64.StdEncoding.DecodeString(strings.TrimSpace(base64Secret))
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(secret) == 0 {
		return nil, ErrEmptyKey
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce and returns
// nonce||ciphertext.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts nonce||ciphertext produced by Seal. Tampered or
// truncated input returns an error and no plaintext.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(data) < n {
		return nil, ErrCiphertextShort
	}
	plaintext, err := c.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}
	return plaintext, nil
}
