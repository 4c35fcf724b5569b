package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/refitt/refitt-sub002/credential"
	"github.com/refitt/refitt-sub002/logger"
	"github.com/refitt/refitt-sub002/token"
)

// unknownClientSecret is compared against when the key matches no client
// so that both failure paths do the same work.
var unknownClientSecret = credential.Digits{}.Hashed()

// Login exchanges a client key and secret for a new token.
//
// A malformed key or secret fails with a *credential.ValidationError.
// An unknown key fails with ErrAuthorizationNotFound, a wrong secret with
// ErrAuthorizationInvalid and a revoked client with ErrAccessRevoked.
func (s *Service) Login(ctx context.Context, key, secret string) (string, *token.Claim, error) {
	key = strings.TrimSpace(key)
	secret = strings.TrimSpace(secret)
	if key == "" && secret == "" {
		return "", nil, ErrCredentialsMissing
	}

	keyDigits, err := credential.Key.Parse(key)
	if err != nil {
		return "", nil, err
	}
	secretDigits, err := credential.Secret.Parse(secret)
	if err != nil {
		return "", nil, err
	}

	client, err := s.store.LookupByKey(ctx, keyDigits)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			_ = secretDigits.Matches(unknownClientSecret)
			logger.Warn("login with unknown key %s", keyDigits)
			return "", nil, ErrAuthorizationNotFound
		}
		return "", nil, logger.LogErr(fmt.Errorf("lookup client by key %s: %w", keyDigits, err))
	}

	if !client.SecretHash.Matches(secretDigits) {
		logger.Warn("login with invalid secret for client %d", client.ID)
		return "", nil, ErrAuthorizationInvalid
	}

	if !client.Valid {
		logger.Warn("login by revoked client %d", client.ID)
		return "", nil, ErrAccessRevoked
	}

	return s.Issue(ctx, client)
}
