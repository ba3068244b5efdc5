package sealbox

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeyEnv is the env var holding the content secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	KeyEnv = "NOTESYNC_CONTENT_KEY"

	// MinSecretBytes is the minimum accepted secret length.
	MinSecretBytes = 32

	prefix = "nsx1:"
	info   = "notesync/content/v1"
)

// Box seals and opens strings. It is safe for concurrent use.
type Box struct {
	aead cipher.AEAD
}

// New derives the sealing key from secret.
func New(secret []byte) (*Box, error) {
	if len(secret) == 0 {
		return nil, ErrKeyMissing
	}
	if len(secret) < MinSecretBytes {
		return nil, ErrKeyTooShort
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Box{aead: aead}, nil
}

// FromEnv builds a Box from NOTESYNC_CONTENT_KEY.
func FromEnv() (*Box, error) {
	raw := strings.TrimSpace(os.Getenv(KeyEnv))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	return New([]byte(raw))
}

// Ephemeral returns a Box keyed by fresh random bytes.
func Ephemeral() (*Box, error) {
	secret := make([]byte, MinSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("random key: %w", err)
	}
	return New(secret)
}

// IsSealed reports whether s carries the sealed-value prefix.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, prefix)
}

// Seal encrypts plaintext. roomID is bound as associated data so a sealed value
// cannot be replayed into another room.
func (b *Box) Seal(roomID, plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plaintext)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := b.aead.Seal(nonce, nonce, []byte(plaintext), []byte(roomID))
	return prefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal for the same roomID.
func (b *Box) Open(roomID, sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", ErrNotSealed
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed[len(prefix):])
	if err != nil {
		return "", ErrOpen
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns+b.aead.Overhead() {
		return "", ErrOpen
	}
	pt, err := b.aead.Open(nil, raw[:ns], raw[ns:], []byte(roomID))
	if err != nil {
		return "", ErrOpen
	}
	return string(pt), nil
}
