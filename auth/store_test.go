package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/refitt/refitt-sub002/clock"
	"github.com/refitt/refitt-sub002/config"
	"github.com/refitt/refitt-sub002/credential"
	"github.com/refitt/refitt-sub002/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	cfg := config.DBConfig{
		Driver:       config.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "refitt.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		PingTimeout:  time.Second,
	}

	sqlDB, err := db.New(ctx, cfg)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.EnsureSchema(ctx, sqlDB, cfg.Driver); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	store := NewStore(sqlDB)
	store.clock = clock.Fake(testNow)
	return store
}

func TestStoreCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	client, creds, err := store.CreateClient(ctx, 42, DefaultClientLevel)
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if creds.Key.Len() != credential.Key.Length || creds.Secret.Len() != credential.Secret.Length {
		t.Fatalf("unexpected credential lengths %d/%d", creds.Key.Len(), creds.Secret.Len())
	}
	if !client.Valid || client.Level != DefaultClientLevel || !client.Created.Equal(testNow) {
		t.Fatalf("unexpected client %+v", client)
	}

	var storedKey, storedSecret string
	if err := store.db.QueryRowContext(ctx, `SELECT key_hash, secret_hash FROM client WHERE id = ?`, client.ID).
		Scan(&storedKey, &storedSecret); err != nil {
		t.Fatalf("select: %v", err)
	}
	if storedKey == creds.Key.Value() || storedSecret == creds.Secret.Value() {
		t.Fatal("plain credentials were stored")
	}

	byKey, err := store.LookupByKey(ctx, creds.Key)
	if err != nil {
		t.Fatalf("LookupByKey: %v", err)
	}
	if byKey.ID != client.ID || !byKey.SecretHash.Matches(creds.Secret) {
		t.Fatalf("LookupByKey returned %+v", byKey)
	}

	byID, err := store.LookupByID(ctx, client.ID)
	if err != nil || byID.UserID != 42 {
		t.Fatalf("LookupByID = %+v, %v", byID, err)
	}

	byUser, err := store.LookupByUser(ctx, 42)
	if err != nil || byUser.ID != client.ID {
		t.Fatalf("LookupByUser = %+v, %v", byUser, err)
	}

	if _, _, err := store.CreateClient(ctx, 42, DefaultClientLevel); !errors.Is(err, ErrClientExists) {
		t.Fatalf("duplicate CreateClient error = %v, want ErrClientExists", err)
	}
}

func TestStoreCreateClientConcurrent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const workers = 8
	var (
		wg   sync.WaitGroup
		errs = make([]error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = store.CreateClient(ctx, 77, DefaultClientLevel)
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case !errors.Is(err, ErrClientExists):
			t.Fatalf("concurrent CreateClient error = %v, want ErrClientExists", err)
		}
	}
	if created != 1 {
		t.Fatalf("%d clients created for one user, want 1", created)
	}
}

func TestStoreLookupMissing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	key, err := credential.Key.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := store.LookupByKey(ctx, key); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("LookupByKey error = %v", err)
	}
	if _, err := store.LookupByID(ctx, 1); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("LookupByID error = %v", err)
	}
	if _, err := store.LookupByUser(ctx, 1); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("LookupByUser error = %v", err)
	}
	if err := store.SetValid(ctx, 1, false); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("SetValid error = %v", err)
	}
	if _, err := store.LookupSession(ctx, 1); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("LookupSession error = %v", err)
	}
}

func TestStoreRotate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	client, creds, err := store.CreateClient(ctx, 1, DefaultClientLevel)
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	rotated, secret, err := store.RotateSecret(ctx, client.ID)
	if err != nil {
		t.Fatalf("RotateSecret: %v", err)
	}
	if rotated.SecretHash.Matches(creds.Secret) || !rotated.SecretHash.Matches(secret) {
		t.Fatal("secret was not replaced")
	}
	if !rotated.KeyHash.Matches(creds.Key) {
		t.Fatal("RotateSecret changed the key")
	}

	rotated, newCreds, err := store.RotateKey(ctx, client.ID)
	if err != nil {
		t.Fatalf("RotateKey: %v", err)
	}
	if rotated.KeyHash.Matches(creds.Key) || !rotated.KeyHash.Matches(newCreds.Key) {
		t.Fatal("key was not replaced")
	}
	if !rotated.SecretHash.Matches(newCreds.Secret) {
		t.Fatal("RotateKey did not replace the secret")
	}
	if _, err := store.LookupByKey(ctx, creds.Key); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("old key still resolves: %v", err)
	}

	if _, _, err := store.RotateSecret(ctx, 999); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("RotateSecret on missing client: %v", err)
	}
}

func TestStoreSetValid(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	client, _, err := store.CreateClient(ctx, 1, DefaultClientLevel)
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	if err := store.SetValid(ctx, client.ID, false); err != nil {
		t.Fatalf("SetValid(false): %v", err)
	}
	got, err := store.LookupByID(ctx, client.ID)
	if err != nil || got.Valid {
		t.Fatalf("client after revoke = %+v, %v", got, err)
	}

	// Repeating the same update must not report the client missing.
	if err := store.SetValid(ctx, client.ID, false); err != nil {
		t.Fatalf("repeated SetValid: %v", err)
	}

	if err := store.SetValid(ctx, client.ID, true); err != nil {
		t.Fatalf("SetValid(true): %v", err)
	}
	if got, _ := store.LookupByID(ctx, client.ID); !got.Valid {
		t.Fatal("client not restored")
	}
}

func TestStoreRecordSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	client, _, err := store.CreateClient(ctx, 1, DefaultClientLevel)
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	first, err := credential.Generate(120)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	expires := testNow.Add(DefaultTokenTTL)
	if _, err := store.RecordSession(ctx, client.ID, first.Hashed(), &expires); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}

	second, err := credential.Generate(120)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	recorded, err := store.RecordSession(ctx, client.ID, second, nil)
	if err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	if !recorded.TokenHash.IsHash() {
		t.Fatal("plain token was not hashed before storing")
	}

	session, err := store.LookupSession(ctx, client.ID)
	if err != nil {
		t.Fatalf("LookupSession: %v", err)
	}
	if session.ExpiresAt != nil {
		t.Fatalf("session expires at %v, want never", session.ExpiresAt)
	}
	if !session.TokenHash.Matches(second) || session.TokenHash.Matches(first) {
		t.Fatal("session does not hold the latest token")
	}

	var count int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session WHERE client_id = ?`, client.ID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("%d session rows, want 1", count)
	}
}

func TestServiceWithStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	client, creds, err := store.CreateClient(ctx, 5, DefaultClientLevel)
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	svc := NewService(store, testCipher(t), WithClock(clock.Fake(testNow)), WithSessionRecorder(store))
	tok, claim, err := svc.Login(ctx, creds.Key.Value(), creds.Secret.Value())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	got, err := svc.Authenticate(ctx, tok)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != client.ID {
		t.Fatalf("Authenticate returned client %d, want %d", got.ID, client.ID)
	}

	session, err := store.LookupSession(ctx, client.ID)
	if err != nil {
		t.Fatalf("LookupSession: %v", err)
	}
	if session.ExpiresAt == nil || !session.ExpiresAt.Equal(*claim.ExpiresAt) {
		t.Fatalf("session expires at %v, want %v", session.ExpiresAt, claim.ExpiresAt)
	}

	if err := store.SetValid(ctx, client.ID, false); err != nil {
		t.Fatalf("SetValid: %v", err)
	}
	if _, _, err := svc.Login(ctx, creds.Key.Value(), creds.Secret.Value()); !errors.Is(err, ErrAccessRevoked) {
		t.Fatalf("Login after revoke: error = %v, want ErrAccessRevoked", err)
	}
}
