// Package crypt provides the authenticated symmetric ciphers that seal
// API tokens. Every cipher is keyed by the deployment root key.
package crypt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/refitt/refitt-sub002/credential"
)

var (
	// ErrInvalidToken is the only error Decrypt returns for input it cannot
	// authenticate, whatever the underlying reason.
	ErrInvalidToken = errors.New("invalid token")

	ErrInvalidRootKey = errors.New("invalid root key")
	ErrUnknownSuite   = errors.New("unknown cipher suite")
)

// rootKeySize is the number of bytes encoded by a root key.
const rootKeySize = 32

// Cipher encrypts and authenticates opaque payloads.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Suite selects a Cipher construction.
type Suite string

const (
	SuiteFernet            Suite = "fernet"
	SuiteXChaCha20Poly1305 Suite = "xchacha20poly1305"
)

// ParseSuite maps a configuration value to a Suite. The empty string
// selects Fernet.
func ParseSuite(name string) (Suite, error) {
	switch Suite(strings.ToLower(strings.TrimSpace(name))) {
	case "", SuiteFernet:
		return SuiteFernet, nil
	case SuiteXChaCha20Poly1305:
		return SuiteXChaCha20Poly1305, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSuite, name)
	}
}

// New builds the Cipher for suite keyed by rootKey.
func New(suite Suite, rootKey credential.Digits) (Cipher, error) {
	switch suite {
	case "", SuiteFernet:
		return NewFernet(rootKey)
	case SuiteXChaCha20Poly1305:
		return NewXChaCha(rootKey)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSuite, string(suite))
	}
}

// NewRootKey returns a fresh root key: 32 random bytes, URL-safe base64.
func NewRootKey() (credential.Digits, error) {
	raw := make([]byte, rootKeySize)
	if _, err := rand.Read(raw); err != nil {
		return credential.Digits{}, fmt.Errorf("read random bytes: %w", err)
	}
	return credential.RootKey.Parse(base64.URLEncoding.EncodeToString(raw))
}

func decodeRootKey(rootKey credential.Digits) ([]byte, error) {
	if rootKey.IsHash() || rootKey.Len() != credential.RootKey.Length {
		return nil, fmt.Errorf("%w: expected %d characters", ErrInvalidRootKey, credential.RootKey.Length)
	}
	raw, err := base64.URLEncoding.DecodeString(rootKey.Value())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRootKey, err)
	}
	if len(raw) != rootKeySize {
		return nil, fmt.Errorf("%w: decodes to %d bytes, want %d", ErrInvalidRootKey, len(raw), rootKeySize)
	}
	return raw, nil
}
