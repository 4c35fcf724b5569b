package crypt

import (
	"crypto/aes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/fernet/fernet-go"

	"github.com/refitt/refitt-sub002/clock"
	"github.com/refitt/refitt-sub002/credential"
)

// Fernet frame layout:
//
//	version(1) | timestamp(8) | iv(16) | ciphertext(n*16) | hmac(32)
const (
	fernetVersion  byte = 0x80
	fernetOverhead      = 1 + 8 + aes.BlockSize + sha256.Size
)

// Fernet seals payloads as Fernet tokens: AES-128-CBC authenticated by
// HMAC-SHA256. Frames encoded with URL-safe base64 are standard tokens.
type Fernet struct {
	key   *fernet.Key
	clock clock.Clock
}

// FernetOption customises a Fernet cipher.
type FernetOption func(*Fernet)

// WithClock sets the source of the frame timestamp.
func WithClock(c clock.Clock) FernetOption {
	return func(f *Fernet) { f.clock = c }
}

// NewFernet builds a Fernet cipher from rootKey.
func NewFernet(rootKey credential.Digits, opts ...FernetOption) (*Fernet, error) {
	if _, err := decodeRootKey(rootKey); err != nil {
		return nil, err
	}
	key, err := fernet.DecodeKey(rootKey.Value())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRootKey, err)
	}

	f := &Fernet{key: key, clock: clock.Real()}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Fernet) Encrypt(plaintext []byte) ([]byte, error) {
	tok, err := fernet.EncryptAndSignAtTime(plaintext, f.key, f.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("fernet encrypt: %w", err)
	}
	frame := make([]byte, base64.URLEncoding.DecodedLen(len(tok)))
	n, err := base64.URLEncoding.Decode(frame, tok)
	if err != nil {
		return nil, fmt.Errorf("fernet encrypt: %w", err)
	}
	return frame[:n], nil
}

// Decrypt authenticates frame and returns its payload. The frame timestamp
// is not checked; expiry lives in the payload.
func (f *Fernet) Decrypt(frame []byte) ([]byte, error) {
	body := len(frame) - fernetOverhead
	if body < aes.BlockSize || body%aes.BlockSize != 0 || frame[0] != fernetVersion {
		return nil, ErrInvalidToken
	}

	tok := []byte(base64.URLEncoding.EncodeToString(frame))
	plaintext := fernet.VerifyAndDecrypt(tok, 0, []*fernet.Key{f.key})
	if plaintext == nil {
		return nil, ErrInvalidToken
	}
	return plaintext, nil
}
