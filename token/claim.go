// Package token defines the claim carried inside API tokens and its
// encrypted, printable form.
package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/refitt/refitt-sub002/credential"
	"github.com/refitt/refitt-sub002/crypt"
)

// NoExpiration is the "exp" value written for claims that never expire.
const NoExpiration int64 = -1

// Claim identifies the client a token was issued to and when it stops
// being accepted. A nil ExpiresAt never expires.
type Claim struct {
	Subject   int64
	ExpiresAt *time.Time
}

type wireClaim struct {
	Sub *int64          `json:"sub"`
	Exp json.RawMessage `json:"exp"`
}

// New returns a claim for subject. expiresAt is truncated to whole
// seconds, the resolution of the encoded form.
func New(subject int64, expiresAt *time.Time) *Claim {
	c := &Claim{Subject: subject}
	if expiresAt != nil {
		t := time.Unix(expiresAt.Unix(), 0).UTC()
		c.ExpiresAt = &t
	}
	return c
}

// NewWithTTL returns a claim expiring ttl after now. A negative ttl
// yields an already expired claim.
func NewWithTTL(subject int64, now time.Time, ttl time.Duration) *Claim {
	expires := now.Add(ttl)
	return New(subject, &expires)
}

// IsExpired reports whether now is at or past the expiration time.
func (c *Claim) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Encode renders the claim as {"sub":<id>,"exp":<unix seconds>} with
// NoExpiration standing in for a nil ExpiresAt. Expirations at or before
// the sentinel are written one second earlier so they stay expired.
func (c *Claim) Encode() ([]byte, error) {
	exp := NoExpiration
	if c.ExpiresAt != nil {
		exp = c.ExpiresAt.Unix()
		if exp <= NoExpiration {
			exp = NoExpiration - 1
		}
	}
	return json.Marshal(struct {
		Sub int64 `json:"sub"`
		Exp int64 `json:"exp"`
	}{Sub: c.Subject, Exp: exp})
}

// Decode parses the output of Encode. Both fields are required; an
// "exp" of NoExpiration or null decodes to a nil ExpiresAt. Fractional
// timestamps are truncated.
func Decode(data []byte) (*Claim, error) {
	var w wireClaim
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedClaim, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedClaim)
	}
	if w.Sub == nil {
		return nil, fmt.Errorf("%w: missing sub", ErrMalformedClaim)
	}
	if len(w.Exp) == 0 {
		return nil, fmt.Errorf("%w: missing exp", ErrMalformedClaim)
	}

	c := &Claim{Subject: *w.Sub}
	if string(w.Exp) == "null" {
		return c, nil
	}

	var n json.Number
	if err := json.Unmarshal(w.Exp, &n); err != nil {
		return nil, fmt.Errorf("%w: exp: %v", ErrMalformedClaim, err)
	}
	exp, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
			return nil, fmt.Errorf("%w: exp %q is not a timestamp", ErrMalformedClaim, n.String())
		}
		exp = int64(f)
	}
	if exp == NoExpiration {
		return c, nil
	}
	t := time.Unix(exp, 0).UTC()
	c.ExpiresAt = &t
	return c, nil
}

// Encrypt seals the encoded claim with cipher and returns the printable
// token.
func (c *Claim) Encrypt(cipher crypt.Cipher) (string, error) {
	data, err := c.Encode()
	if err != nil {
		return "", fmt.Errorf("encode claim: %w", err)
	}
	frame, err := cipher.Encrypt(data)
	if err != nil {
		return "", fmt.Errorf("encrypt claim: %w", err)
	}
	return base64.URLEncoding.EncodeToString(frame), nil
}

// Decrypt recovers the claim sealed in tok. Every failure is reported as
// an *InvalidError, which matches ErrTokenInvalid.
func Decrypt(tok string, cipher crypt.Cipher) (*Claim, error) {
	invalid := func(err error) error {
		return &InvalidError{Fingerprint: credential.Fingerprint(tok), Err: err}
	}

	digits, err := credential.Token.Parse(tok)
	if err != nil {
		return nil, invalid(err)
	}
	frame, err := base64.URLEncoding.Strict().DecodeString(digits.Value())
	if err != nil {
		return nil, invalid(crypt.ErrInvalidToken)
	}
	data, err := cipher.Decrypt(frame)
	if err != nil {
		return nil, invalid(err)
	}
	c, err := Decode(data)
	if err != nil {
		return nil, invalid(err)
	}
	return c, nil
}

// Equal reports whether c and other carry the same subject and expiry.
func (c *Claim) Equal(other *Claim) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.Subject != other.Subject {
		return false
	}
	if c.ExpiresAt == nil || other.ExpiresAt == nil {
		return c.ExpiresAt == other.ExpiresAt
	}
	return c.ExpiresAt.Equal(*other.ExpiresAt)
}

func (c *Claim) String() string {
	if c.ExpiresAt == nil {
		return fmt.Sprintf("Claim{sub: %d, exp: never}", c.Subject)
	}
	return fmt.Sprintf("Claim{sub: %d, exp: %s}", c.Subject, c.ExpiresAt.Format(time.RFC3339))
}
