package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required TokenCipher key length (AES-256)
const KeySize = 32

// KeyFromBase64 decodes the configured cipher secret.
// The key must be base64-encoded and decode to exactly 32 bytes.
func KeyFromBase64(keyStr string) ([]byte, error) {
	if keyStr == "" {
		return nil, fmt.Errorf("%w: EBAY_ENCRYPTION_KEY not set", ErrMissingConfiguration)
	}

	key, err := base64.StdEncoding.DecodeString(keyStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key from base64: %w", err)
	}

	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid encryption key length: got %d bytes, expected %d", len(key), KeySize)
	}

	return key, nil
}

// Cipher makes tokens opaque before they leave the process (cookie payload)
// or hit a durable store. It uses AES-256-GCM, so tampered or foreign
// payloads fail to open.
type Cipher struct {
	aead  cipher.AEAD
	nonce io.Reader
}

// NewCipher creates a cipher for the given 32-byte key
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length: got %d bytes, expected %d", len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{aead: gcm, nonce: rand.Reader}, nil
}

// WithNonceSource returns a copy of the cipher drawing nonces from r.
// Two ciphers with the same key and identical nonce streams produce
// identical output, which tests rely on.
func (c *Cipher) WithNonceSource(r io.Reader) *Cipher {
	return &Cipher{aead: c.aead, nonce: r}
}

// Seal encrypts plaintext. Output format: [nonce][ciphertext+tag]
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(c.nonce, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal and verifies the authentication tag
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.New("sealed data too short - missing nonce")
	}

	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (authentication tag verification failed): %w", err)
	}
	return plaintext, nil
}

// Obscure seals plaintext and encodes it as a cookie-safe string
func (c *Cipher) Obscure(plaintext []byte) (string, error) {
	sealed, err := c.Seal(plaintext)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Reveal decodes and opens an Obscure result. Malformed, truncated or
// tampered input yields ok == false; callers treat that as "not authenticated".
func (c *Cipher) Reveal(token string) (plaintext []byte, ok bool) {
	if token == "" {
		return nil, false
	}

	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, false
	}

	plaintext, err = c.Open(sealed)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}
