package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/refitt/refitt-sub002/clock"
	"github.com/refitt/refitt-sub002/credential"
	"github.com/refitt/refitt-sub002/db"
	"github.com/refitt/refitt-sub002/logger"
)

// CredentialStore is what Login needs: find a client by its API key.
// Implementations return ErrClientNotFound when no client matches.
type CredentialStore interface {
	LookupByKey(ctx context.Context, key credential.Digits) (*Client, error)
}

// ClientStore adds the lookups used to authenticate bearer tokens and to
// issue tokens on behalf of a user.
type ClientStore interface {
	CredentialStore
	LookupByID(ctx context.Context, id int64) (*Client, error)
	LookupByUser(ctx context.Context, userID int64) (*Client, error)
}

// SessionRecorder keeps a hash of the last token issued to each client.
type SessionRecorder interface {
	RecordSession(ctx context.Context, clientID int64, tokenHash credential.Digits, expiresAt *time.Time) (*Session, error)
}

// Store provides database-backed operations needed by authorization flows.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// NewStore constructs a Store backed by the given sql.DB.
func NewStore(sqlDB *sql.DB) *Store {
	return &Store{db: sqlDB, clock: clock.Real()}
}

const clientColumns = `id, user_id, level, key_hash, secret_hash, valid, created`

// LookupByKey finds the client whose key hashes to the same digest as key.
func (s *Store) LookupByKey(ctx context.Context, key credential.Digits) (*Client, error) {
	return s.queryClient(ctx, "key_hash", key.Hashed().Value())
}

func (s *Store) LookupByID(ctx context.Context, id int64) (*Client, error) {
	return s.queryClient(ctx, "id", id)
}

func (s *Store) LookupByUser(ctx context.Context, userID int64) (*Client, error) {
	return s.queryClient(ctx, "user_id", userID)
}

func (s *Store) queryClient(ctx context.Context, column string, value interface{}) (*Client, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+clientColumns+`
		FROM client
		WHERE `+column+` = ?
	`, value)

	client, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, logger.LogErr(fmt.Errorf("query client by %s: %w", column, err))
	}
	return client, nil
}

func scanClient(row *sql.Row) (*Client, error) {
	var (
		c          Client
		keyHash    string
		secretHash string
		created    int64
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Level, &keyHash, &secretHash, &c.Valid, &created); err != nil {
		return nil, err
	}

	var err error
	if c.KeyHash, err = credential.Key.ParseHash(keyHash); err != nil {
		return nil, fmt.Errorf("client %d: %w", c.ID, err)
	}
	if c.SecretHash, err = credential.Secret.ParseHash(secretHash); err != nil {
		return nil, fmt.Errorf("client %d: %w", c.ID, err)
	}
	c.Created = time.Unix(created, 0).UTC()
	return &c, nil
}

// CreateClient registers a new client for userID with fresh credentials.
// The plain credentials are returned once and never stored.
func (s *Store) CreateClient(ctx context.Context, userID int64, level int) (*Client, *Credentials, error) {
	if _, err := s.LookupByUser(ctx, userID); err == nil {
		return nil, nil, fmt.Errorf("%w: user %d", ErrClientExists, userID)
	} else if !errors.Is(err, ErrClientNotFound) {
		return nil, nil, err
	}

	creds, err := newCredentials()
	if err != nil {
		return nil, nil, logger.LogErr(err)
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO client (user_id, level, key_hash, secret_hash, valid, created)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		userID,
		level,
		creds.Key.Hashed().Value(),
		creds.Secret.Hashed().Value(),
		true,
		now.Unix(),
	)
	if err != nil {
		// A concurrent create can win the race past the lookup above.
		if db.IsUniqueViolation(err) {
			return nil, nil, fmt.Errorf("%w: user %d", ErrClientExists, userID)
		}
		return nil, nil, logger.LogErr(fmt.Errorf("insert client for user %d: %w", userID, err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, nil, logger.LogErr(fmt.Errorf("read client id for user %d: %w", userID, err))
	}

	return &Client{
		ID:         id,
		UserID:     userID,
		Level:      level,
		KeyHash:    creds.Key.Hashed(),
		SecretHash: creds.Secret.Hashed(),
		Valid:      true,
		Created:    now,
	}, creds, nil
}

// RotateSecret replaces the client's secret. The key is unchanged.
func (s *Store) RotateSecret(ctx context.Context, clientID int64) (*Client, credential.Digits, error) {
	secret, err := credential.Secret.Generate()
	if err != nil {
		return nil, credential.Digits{}, logger.LogErr(err)
	}

	if err := s.updateClient(ctx, clientID, `secret_hash = ?`, secret.Hashed().Value()); err != nil {
		return nil, credential.Digits{}, err
	}

	client, err := s.LookupByID(ctx, clientID)
	if err != nil {
		return nil, credential.Digits{}, err
	}
	return client, secret, nil
}

// RotateKey replaces both the key and the secret of a client.
func (s *Store) RotateKey(ctx context.Context, clientID int64) (*Client, *Credentials, error) {
	creds, err := newCredentials()
	if err != nil {
		return nil, nil, logger.LogErr(err)
	}

	if err := s.updateClient(ctx, clientID, `key_hash = ?, secret_hash = ?`,
		creds.Key.Hashed().Value(), creds.Secret.Hashed().Value()); err != nil {
		return nil, nil, err
	}

	client, err := s.LookupByID(ctx, clientID)
	if err != nil {
		return nil, nil, err
	}
	return client, creds, nil
}

// SetValid revokes (false) or restores (true) a client's access.
func (s *Store) SetValid(ctx context.Context, clientID int64, valid bool) error {
	return s.updateClient(ctx, clientID, `valid = ?`, valid)
}

func (s *Store) updateClient(ctx context.Context, clientID int64, set string, args ...interface{}) error {
	args = append(args, clientID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE client
		SET `+set+`
		WHERE id = ?
	`, args...)
	if err != nil {
		return logger.LogErr(fmt.Errorf("update client %d: %w", clientID, err))
	}

	// MySQL reports zero affected rows when values are unchanged, so
	// confirm the row exists before calling it missing.
	affected, err := res.RowsAffected()
	if err != nil {
		return logger.LogErr(fmt.Errorf("update client %d: rows affected: %w", clientID, err))
	}
	if affected == 0 {
		if _, err := s.LookupByID(ctx, clientID); err != nil {
			return err
		}
	}
	return nil
}

// RecordSession replaces the session row of a client with the hash of its
// newest token.
func (s *Store) RecordSession(ctx context.Context, clientID int64, tokenHash credential.Digits, expiresAt *time.Time) (*Session, error) {
	if !tokenHash.IsHash() {
		tokenHash = tokenHash.Hashed()
	}

	var expires sql.NullInt64
	if expiresAt != nil {
		expires = sql.NullInt64{Int64: expiresAt.Unix(), Valid: true}
	}
	now := s.clock.Now().UTC().Truncate(time.Second)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("begin session update for client %d: %w", clientID, err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM session
		WHERE client_id = ?
	`, clientID); err != nil {
		return nil, logger.LogErr(fmt.Errorf("delete session for client %d: %w", clientID, err))
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO session (client_id, expires, token_hash, created)
		VALUES (?, ?, ?, ?)
	`, clientID, expires, tokenHash.Value(), now.Unix())
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("insert session for client %d: %w", clientID, err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("read session id for client %d: %w", clientID, err))
	}

	if err := tx.Commit(); err != nil {
		return nil, logger.LogErr(fmt.Errorf("commit session for client %d: %w", clientID, err))
	}

	session := &Session{
		ID:        id,
		ClientID:  clientID,
		TokenHash: tokenHash,
		Created:   now,
	}
	if expires.Valid {
		t := time.Unix(expires.Int64, 0).UTC()
		session.ExpiresAt = &t
	}
	return session, nil
}

// LookupSession returns the recorded session of a client.
func (s *Store) LookupSession(ctx context.Context, clientID int64) (*Session, error) {
	var (
		session   Session
		expires   sql.NullInt64
		tokenHash string
		created   int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, expires, token_hash, created
		FROM session
		WHERE client_id = ?
	`, clientID).Scan(&session.ID, &session.ClientID, &expires, &tokenHash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, logger.LogErr(fmt.Errorf("query session for client %d: %w", clientID, err))
	}

	if session.TokenHash, err = credential.Token.ParseHash(tokenHash); err != nil {
		return nil, logger.LogErr(fmt.Errorf("session for client %d: %w", clientID, err))
	}
	if expires.Valid {
		t := time.Unix(expires.Int64, 0).UTC()
		session.ExpiresAt = &t
	}
	session.Created = time.Unix(created, 0).UTC()
	return &session, nil
}

func newCredentials() (*Credentials, error) {
	key, err := credential.Key.Generate()
	if err != nil {
		return nil, err
	}
	secret, err := credential.Secret.Generate()
	if err != nil {
		return nil, err
	}
	return &Credentials{Key: key, Secret: secret}, nil
}
