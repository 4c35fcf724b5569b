package auth

import (
	"time"

	"github.com/refitt/refitt-sub002/credential"
)

const (
	// DefaultClientLevel is assigned to new clients. Lower levels carry
	// more privilege; level 0 is reserved for administrators.
	DefaultClientLevel = 10
	// AdminLevel is required to issue tokens on behalf of other users.
	AdminLevel = 1

	DefaultTokenTTL = 15 * time.Minute
)

// Client is a registered API credential pair. Only hashes of the key and
// secret are kept.
type Client struct {
	ID         int64
	UserID     int64
	Level      int
	KeyHash    credential.Digits
	SecretHash credential.Digits
	Valid      bool
	Created    time.Time
}

// Credentials are the plain key and secret handed to a user once, when
// a client is created or rotated.
type Credentials struct {
	Key    credential.Digits
	Secret credential.Digits
}

// Session records the most recent token issued to a client.
type Session struct {
	ID        int64
	ClientID  int64
	ExpiresAt *time.Time
	TokenHash credential.Digits
	Created   time.Time
}
