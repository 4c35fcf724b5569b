// Package credential implements the fixed-alphabet secrets used by the
// API: root keys, client keys, client secrets and the token strings
// derived from them.
//
// Values are never printed in full. String, GoString and the %v verbs
// render a short fingerprint so a Digits can be logged safely.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Alphabet lists every character a credential may contain.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_="

// hashLength is the size of a hex encoded SHA-256 digest.
const hashLength = 2 * sha256.Size

// rejectAbove is the largest multiple of len(Alphabet) that fits in a byte.
// Bytes at or above it are discarded so every character is equally likely.
const rejectAbove = 256 - 256%len(Alphabet)

// Kind is the role a credential plays. Length is the exact number of
// characters required, or zero when any non-empty length is accepted.
type Kind struct {
	Name   string
	Length int
}

var (
	RootKey = Kind{Name: "rootkey", Length: 44}
	Key     = Kind{Name: "key", Length: 16}
	Secret  = Kind{Name: "secret", Length: 64}
	Token   = Kind{Name: "token"}
)

// Digits is an immutable credential value of a given Kind.
type Digits struct {
	kind   Kind
	value  string
	isHash bool
}

// Parse validates value against k.
func (k Kind) Parse(value string) (Digits, error) {
	if k.Length > 0 && len(value) != k.Length {
		return Digits{}, &ValidationError{
			Field:   k.Name,
			Message: fmt.Sprintf("expected length %d, found %d", k.Length, len(value)),
			Err:     ErrInvalidLength,
		}
	}
	if value == "" {
		return Digits{}, &ValidationError{Field: k.Name, Message: "empty value", Err: ErrInvalidLength}
	}
	if i := strings.IndexFunc(value, func(r rune) bool { return !strings.ContainsRune(Alphabet, r) }); i >= 0 {
		return Digits{}, &ValidationError{
			Field:   k.Name,
			Message: fmt.Sprintf("unexpected character at position %d", i),
			Err:     ErrInvalidDigits,
		}
	}
	return Digits{kind: k, value: value}, nil
}

// ParseHash rebuilds a stored digest produced by Digits.Hashed.
func (k Kind) ParseHash(value string) (Digits, error) {
	if len(value) != hashLength {
		return Digits{}, &ValidationError{
			Field:   k.Name + " hash",
			Message: fmt.Sprintf("expected length %d, found %d", hashLength, len(value)),
			Err:     ErrInvalidLength,
		}
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return Digits{}, &ValidationError{
				Field:   k.Name + " hash",
				Message: fmt.Sprintf("unexpected character at position %d", i),
				Err:     ErrInvalidDigits,
			}
		}
	}
	return Digits{kind: k, value: value, isHash: true}, nil
}

// Generate returns a new random value of k.
func (k Kind) Generate() (Digits, error) {
	if k.Length <= 0 {
		return Digits{}, fmt.Errorf("generate %s: %w", k.Name, ErrNotGenerable)
	}
	value, err := randomString(rand.Reader, k.Length)
	if err != nil {
		return Digits{}, fmt.Errorf("generate %s: %w", k.Name, err)
	}
	return Digits{kind: k, value: value}, nil
}

// Generate returns length characters drawn uniformly from Alphabet.
func Generate(length int) (Digits, error) {
	if length <= 0 {
		return Digits{}, &ValidationError{
			Field:   "size",
			Message: fmt.Sprintf("got %d", length),
			Err:     ErrInvalidSize,
		}
	}
	value, err := randomString(rand.Reader, length)
	if err != nil {
		return Digits{}, err
	}
	return Digits{kind: Kind{Name: "value", Length: length}, value: value}, nil
}

func randomString(r io.Reader, length int) (string, error) {
	out := make([]byte, 0, length)
	buf := make([]byte, length+length/2)
	for len(out) < length {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

func (d Digits) Kind() Kind { return d.kind }

// Value returns the raw characters. Callers must not log it.
func (d Digits) Value() string { return d.value }

func (d Digits) Len() int { return len(d.value) }

// IsHash reports whether d holds a SHA-256 digest rather than the original value.
func (d Digits) IsHash() bool { return d.isHash }

// IsZero reports whether d was never set.
func (d Digits) IsZero() bool { return d.value == "" }

// Hashed returns the hex SHA-256 digest of d. Hashing a hash returns it unchanged.
func (d Digits) Hashed() Digits {
	if d.isHash {
		return d
	}
	sum := sha256.Sum256([]byte(d.value))
	return Digits{kind: d.kind, value: hex.EncodeToString(sum[:]), isHash: true}
}

// Matches compares the digests of d and other in constant time. Either
// side may already be hashed. Zero values never match.
func (d Digits) Matches(other Digits) bool {
	if d.IsZero() || other.IsZero() {
		return false
	}
	a := d.Hashed().value
	b := other.Hashed().value
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (d Digits) String() string {
	return Fingerprint(d.value)
}

func (d Digits) GoString() string {
	return fmt.Sprintf("credential.Digits{kind: %q, value: %q, isHash: %t}", d.kind.Name, Fingerprint(d.value), d.isHash)
}

// Fingerprint abbreviates s to its first and last characters for display,
// for example "bad...ken".
func Fingerprint(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) < 9:
		return s[:1] + "..." + s[len(s)-1:]
	default:
		return s[:3] + "..." + s[len(s)-3:]
	}
}
