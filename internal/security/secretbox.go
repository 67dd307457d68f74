package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrInvalidDataKey is returned when the data encryption key is not 32 bytes.
	ErrInvalidDataKey = errors.New("invalid data encryption key")
	// ErrSealedDataCorrupt is returned when ciphertext fails authentication or is truncated.
	ErrSealedDataCorrupt = errors.New("sealed data corrupt")
)

// SecretBox seals small secrets at rest (TOTP seeds, signing-key material) with XChaCha20-Poly1305.
// The stored form is base64(nonce || ciphertext).
type SecretBox struct {
	key []byte
}

// NewSecretBox returns a SecretBox for a 32-byte key.
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidDataKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &SecretBox{key: k}, nil
}

// ParseDataKey decodes a base64 (std or URL) 32-byte key.
func ParseDataKey(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			if len(b) != chacha20poly1305.KeySize {
				return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidDataKey, len(b))
			}
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: not base64", ErrInvalidDataKey)
}

// GenerateDataKey returns a random 32-byte key. Used in development when no key is configured.
func GenerateDataKey() ([]byte, error) {
	k := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, err
	}
	return k, nil
}

// Seal encrypts plaintext; additionalData binds the ciphertext to its owner (e.g. account or key id).
func (b *SecretBox) Seal(plaintext, additionalData []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, plaintext, additionalData)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. additionalData must match the value passed to Seal.
func (b *SecretBox) Open(sealed string, additionalData []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrSealedDataCorrupt
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrSealedDataCorrupt
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, additionalData)
	if err != nil {
		return nil, ErrSealedDataCorrupt
	}
	return pt, nil
}
