package auth

import (
	"time"

	"github.com/refitt/refitt-sub002/clock"
	"github.com/refitt/refitt-sub002/crypt"
)

// Service issues and verifies API tokens. It holds no mutable state and
// is safe for concurrent use.
type Service struct {
	store        ClientStore
	cipher       crypt.Cipher
	clock        clock.Clock
	sessions     SessionRecorder
	tokenTTL     time.Duration
	noExpiration bool
}

// Option customises a Service.
type Option func(*Service)

// WithTokenTTL sets how long issued tokens stay valid. Zero and negative
// values produce tokens that are already expired.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.tokenTTL = ttl
		s.noExpiration = false
	}
}

// WithoutExpiration issues tokens that never expire.
func WithoutExpiration() Option {
	return func(s *Service) { s.noExpiration = true }
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithSessionRecorder records a hash of every issued token.
func WithSessionRecorder(r SessionRecorder) Option {
	return func(s *Service) { s.sessions = r }
}

// NewService returns a Service that looks clients up in store and seals
// tokens with cipher.
func NewService(store ClientStore, cipher crypt.Cipher, opts ...Option) *Service {
	s := &Service{
		store:    store,
		cipher:   cipher,
		clock:    clock.Real(),
		tokenTTL: DefaultTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
