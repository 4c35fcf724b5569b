package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/refitt/refitt-sub002/credential"
	"github.com/refitt/refitt-sub002/logger"
	"github.com/refitt/refitt-sub002/token"
)

// Issue mints a token for client under the service's expiration policy.
func (s *Service) Issue(ctx context.Context, client *Client) (string, *token.Claim, error) {
	if client == nil {
		return "", nil, logger.LogErr(errors.New("issue token: nil client"))
	}

	var claim *token.Claim
	if s.noExpiration {
		logger.Warn("issuing token without expiration for client %d", client.ID)
		claim = token.New(client.ID, nil)
	} else {
		claim = token.NewWithTTL(client.ID, s.clock.Now(), s.tokenTTL)
	}

	tok, err := claim.Encrypt(s.cipher)
	if err != nil {
		return "", nil, logger.LogErr(fmt.Errorf("issue token for client %d: %w", client.ID, err))
	}

	if s.sessions != nil {
		digits, err := credential.Token.Parse(tok)
		if err != nil {
			return "", nil, logger.LogErr(fmt.Errorf("issue token for client %d: %w", client.ID, err))
		}
		if _, err := s.sessions.RecordSession(ctx, client.ID, digits.Hashed(), claim.ExpiresAt); err != nil {
			return "", nil, fmt.Errorf("record session for client %d: %w", client.ID, err)
		}
	}

	logger.Debug("issued token %s for client %d", credential.Fingerprint(tok), client.ID)
	return tok, claim, nil
}

// IssueForUser mints a token for the client registered to userID.
func (s *Service) IssueForUser(ctx context.Context, userID int64) (string, *token.Claim, error) {
	client, err := s.store.LookupByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return "", nil, ErrAuthorizationNotFound
		}
		return "", nil, err
	}
	return s.Issue(ctx, client)
}

// Verify checks tok and returns the client id it was issued to.
//
// An empty tok fails with token.ErrTokenNotFound, one that cannot be
// decrypted with an error matching token.ErrTokenInvalid, and an expired
// one with token.ErrTokenExpired.
func (s *Service) Verify(tok string) (int64, error) {
	claim, err := s.VerifyClaim(tok)
	if err != nil {
		return 0, err
	}
	return claim.Subject, nil
}

// VerifyClaim is Verify returning the whole claim.
func (s *Service) VerifyClaim(tok string) (*token.Claim, error) {
	if tok == "" {
		return nil, token.ErrTokenNotFound
	}

	claim, err := token.Decrypt(tok, s.cipher)
	if err != nil {
		return nil, err
	}

	if claim.IsExpired(s.clock.Now()) {
		return nil, token.ErrTokenExpired
	}
	return claim, nil
}

// Authenticate verifies tok and loads the client it belongs to.
func (s *Service) Authenticate(ctx context.Context, tok string) (*Client, error) {
	clientID, err := s.Verify(tok)
	if err != nil {
		return nil, err
	}

	client, err := s.store.LookupByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return nil, ErrAuthorizationNotFound
		}
		return nil, err
	}

	if !client.Valid {
		return nil, ErrAccessRevoked
	}
	return client, nil
}

// RequireLevel fails with ErrLevelInsufficient unless client is at least
// as privileged as level.
func RequireLevel(client *Client, level int) error {
	if client == nil || client.Level > level {
		return ErrLevelInsufficient
	}
	return nil
}

// TokenTTL reports the lifetime of issued tokens, or zero and false when
// they never expire.
func (s *Service) TokenTTL() (time.Duration, bool) {
	if s.noExpiration {
		return 0, false
	}
	return s.tokenTTL, true
}
