package crypt

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/refitt/refitt-sub002/credential"
)

const xchachaVersion byte = 0x01

var hkdfInfoToken = []byte("refitt.token.v1")

// XChaCha seals payloads with XChaCha20-Poly1305 under a key derived
// from the root key with HKDF-SHA256. Frames are
//
//	version(1) | nonce(24) | ciphertext | tag(16)
//
// and the version byte is authenticated as additional data.
type XChaCha struct {
	key    []byte
	random io.Reader
}

func NewXChaCha(rootKey credential.Digits) (*XChaCha, error) {
	raw, err := decodeRootKey(rootKey)
	if err != nil {
		return nil, err
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, hkdfInfoToken), key); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	return &XChaCha{key: key, random: rand.Reader}, nil
}

func (x *XChaCha) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(x.key)
	if err != nil {
		return nil, fmt.Errorf("create aead: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(x.random, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	aad := []byte{xchachaVersion}
	out := make([]byte, 1+len(nonce), 1+len(nonce)+len(plaintext)+aead.Overhead())
	out[0] = xchachaVersion
	copy(out[1:], nonce[:])
	return aead.Seal(out, nonce[:], plaintext, aad), nil
}

func (x *XChaCha) Decrypt(frame []byte) ([]byte, error) {
	if len(frame) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrInvalidToken
	}
	if frame[0] != xchachaVersion {
		return nil, ErrInvalidToken
	}
	aead, err := chacha20poly1305.NewX(x.key)
	if err != nil {
		return nil, ErrInvalidToken
	}
	nonce := frame[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, frame[1+chacha20poly1305.NonceSizeX:], []byte{xchachaVersion})
	if err != nil {
		return nil, ErrInvalidToken
	}
	return plaintext, nil
}
