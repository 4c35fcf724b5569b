package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/refitt/refitt-sub002/credential"
	"github.com/refitt/refitt-sub002/crypt"
)

func newCipher(t *testing.T) crypt.Cipher {
	t.Helper()
	key, err := crypt.NewRootKey()
	if err != nil {
		t.Fatalf("NewRootKey: %v", err)
	}
	c, err := crypt.New(crypt.SuiteFernet, key)
	if err != nil {
		t.Fatalf("crypt.New: %v", err)
	}
	return c
}

func TestEncode(t *testing.T) {
	exp := time.Unix(1700000000, 0)
	tests := []struct {
		name  string
		claim *Claim
		want  string
	}{
		{name: "never expires", claim: New(7, nil), want: `{"sub":7,"exp":-1}`},
		{name: "expires", claim: New(7, &exp), want: `{"sub":7,"exp":1700000000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.claim.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("Encode = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	exp := time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC)
	for _, c := range []*Claim{New(1, nil), New(42, &exp), NewWithTTL(9, exp, -24*time.Hour)} {
		data, err := c.Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s): %v", data, err)
		}
		if !got.Equal(c) {
			t.Fatalf("round trip of %v produced %v", c, got)
		}
	}
}

func TestEncodePastExpirationStaysExpired(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	for _, exp := range []time.Time{time.Unix(-1, 0), time.Unix(-2, 0), time.Unix(-86400, 0)} {
		c := New(5, &exp)
		data, err := c.Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s): %v", data, err)
		}
		if got.ExpiresAt == nil {
			t.Fatalf("expiration %v decoded as never expiring from %s", exp, data)
		}
		if !got.IsExpired(now) || got.ExpiresAt.After(exp) {
			t.Fatalf("expiration %v decoded as %v", exp, got.ExpiresAt)
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    *Claim
		wantErr bool
	}{
		{name: "null exp", data: `{"sub":3,"exp":null}`, want: New(3, nil)},
		{name: "fractional exp", data: `{"sub":3,"exp":1700000000.75}`, want: &Claim{Subject: 3, ExpiresAt: ptr(time.Unix(1700000000, 0).UTC())}},
		{name: "missing exp", data: `{"sub":3}`, wantErr: true},
		{name: "missing sub", data: `{"exp":-1}`, wantErr: true},
		{name: "string exp", data: `{"sub":3,"exp":"soon"}`, wantErr: true},
		{name: "not json", data: `sub=3`, wantErr: true},
		{name: "empty", data: ``, wantErr: true},
		{name: "trailing data", data: `{"sub":3,"exp":-1} trailing junk`, wantErr: true},
		{name: "second value", data: `{"sub":3,"exp":-1}{"sub":4,"exp":-1}`, wantErr: true},
		{name: "trailing newline", data: "{\"sub\":3,\"exp\":-1}\n", want: New(3, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedClaim) {
					t.Fatalf("Decode error = %v, want ErrMalformedClaim", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Decode = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if New(1, nil).IsExpired(now.Add(100 * 365 * 24 * time.Hour)) {
		t.Error("claim without expiration should never expire")
	}

	c := New(1, &now)
	if c.IsExpired(now.Add(-time.Second)) {
		t.Error("claim should be valid before its expiration")
	}
	if !c.IsExpired(now) {
		t.Error("claim should be expired exactly at its expiration")
	}
	if !c.IsExpired(now.Add(time.Second)) {
		t.Error("claim should be expired after its expiration")
	}

	if !NewWithTTL(1, now, 0).IsExpired(now) {
		t.Error("zero ttl should be expired immediately")
	}
	if !NewWithTTL(1, now, -24*time.Hour).IsExpired(now) {
		t.Error("negative ttl should already be expired")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	c := newCipher(t)
	now := time.Now()

	for _, claim := range []*Claim{New(5, nil), NewWithTTL(5, now, 15*time.Minute)} {
		tok, err := claim.Encrypt(c)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if strings.ContainsAny(tok, "+/") {
			t.Fatalf("token %q is not URL safe", tok)
		}
		got, err := Decrypt(tok, c)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !got.Equal(claim) {
			t.Fatalf("Decrypt = %v, want %v", got, claim)
		}
	}
}

func TestDecryptInvalid(t *testing.T) {
	c := newCipher(t)
	tok, err := New(5, nil).Encrypt(c)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	notAClaim, err := c.Encrypt([]byte("not a claim"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tests := map[string]string{
		"garbage":        "bad-token",
		"empty":          "",
		"bad alphabet":   "abc$def",
		"altered suffix": tok[:len(tok)-4] + "AAAA",
		"truncated":      tok[:len(tok)-8],
		"foreign key":    mustEncrypt(t, newCipher(t), New(5, nil)),
		"not a claim":    encodeFrame(notAClaim),
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decrypt(in, c)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Fatalf("Decrypt error = %v, want ErrTokenInvalid", err)
			}
			var invalid *InvalidError
			if !errors.As(err, &invalid) {
				t.Fatalf("error %T is not *InvalidError", err)
			}
			if invalid.Fingerprint != credential.Fingerprint(in) {
				t.Fatalf("Fingerprint = %q, want %q", invalid.Fingerprint, credential.Fingerprint(in))
			}
		})
	}
}

func TestInvalidErrorMessage(t *testing.T) {
	_, err := Decrypt("bad-token", newCipher(t))
	if err == nil || err.Error() != "token invalid: 'bad...ken'" {
		t.Fatalf("error = %v", err)
	}
}

func mustEncrypt(t *testing.T, c crypt.Cipher, claim *Claim) string {
	t.Helper()
	tok, err := claim.Encrypt(c)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return tok
}

func ptr[T any](v T) *T { return &v }

func encodeFrame(frame []byte) string {
	return base64.URLEncoding.EncodeToString(frame)
}
