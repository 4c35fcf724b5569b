package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/refitt/refitt-sub002/auth"
	"github.com/refitt/refitt-sub002/credential"
	"github.com/refitt/refitt-sub002/token"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	var out bytes.Buffer
	if err := run(context.Background(), []string{"keygen"}, nil, &out); err != nil {
		t.Fatalf("keygen: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "refitt.yml")
	body := "api:\n  rootkey: " + strings.TrimSpace(out.String()) + "\n" + extra +
		"database:\n  driver: sqlite\n  path: " + filepath.Join(dir, "refitt.db") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runOK(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	if err := run(context.Background(), args, strings.NewReader(stdin), &out); err != nil {
		t.Fatalf("refitt-admin %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func field(t *testing.T, output, name string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if value, ok := strings.CutPrefix(line, name+":"); ok {
			return strings.TrimSpace(value)
		}
	}
	t.Fatalf("no %q in output:\n%s", name, output)
	return ""
}

func TestKeygen(t *testing.T) {
	out := strings.TrimSpace(runOK(t, "", "keygen"))
	if _, err := credential.RootKey.Parse(out); err != nil {
		t.Fatalf("keygen printed %q: %v", out, err)
	}
}

func TestClientLifecycle(t *testing.T) {
	cfg := writeConfig(t, "")

	out := runOK(t, "", "client", "new", "--config", cfg, "--user", "12")
	key := field(t, out, "key")
	secret := field(t, out, "secret")
	clientID := field(t, out, "client")
	if field(t, out, "level") != "10" {
		t.Fatalf("unexpected level in\n%s", out)
	}
	if shown := runOK(t, "", "client", "show", "--config", cfg, "--user", "12"); field(t, shown, "session") != "none" {
		t.Fatalf("show before login reported\n%s", shown)
	}

	tok := strings.TrimSpace(runOK(t, secret+"\n", "token", "login", "--config", cfg, "--key", key))
	verified := runOK(t, "", "token", "verify", "--config", cfg, tok)
	if field(t, verified, "client") != clientID {
		t.Fatalf("verify reported\n%s", verified)
	}
	shown := runOK(t, "", "client", "show", "--config", cfg, "--user", "12")
	if field(t, shown, "session") != field(t, verified, "expires") {
		t.Fatalf("show after login reported\n%s\nverify reported\n%s", shown, verified)
	}

	out = runOK(t, "", "client", "revoke", "--config", cfg, "--id", clientID)
	if field(t, out, "valid") != "false" {
		t.Fatalf("revoke reported\n%s", out)
	}

	var buf bytes.Buffer
	err := run(context.Background(), []string{"token", "login", "--config", cfg, "--key", key}, strings.NewReader(secret), &buf)
	if !errors.Is(err, auth.ErrAccessRevoked) {
		t.Fatalf("login after revoke: %v", err)
	}

	runOK(t, "", "client", "restore", "--config", cfg, "--id", clientID)

	out = runOK(t, "", "client", "rotate-secret", "--config", cfg, "--id", clientID)
	newSecret := field(t, out, "secret")
	if newSecret == secret {
		t.Fatal("secret was not rotated")
	}
	err = run(context.Background(), []string{"token", "login", "--config", cfg, "--key", key}, strings.NewReader(secret), &buf)
	if !errors.Is(err, auth.ErrAuthorizationInvalid) {
		t.Fatalf("login with old secret: %v", err)
	}
	runOK(t, newSecret, "token", "login", "--config", cfg, "--key", key)

	out = runOK(t, "", "client", "rotate-key", "--config", cfg, "--id", clientID)
	if field(t, out, "key") == key {
		t.Fatal("key was not rotated")
	}
}

func TestTokenNewAndVerify(t *testing.T) {
	cfg := writeConfig(t, "  token_ttl: 1h\n")
	runOK(t, "", "client", "new", "--config", cfg, "--user", "3")

	tok := strings.TrimSpace(runOK(t, "", "token", "new", "--config", cfg, "--user", "3", "--no-expire"))
	out := runOK(t, tok+"\n", "token", "verify", "--config", cfg)
	if field(t, out, "expires") != "never" {
		t.Fatalf("verify reported\n%s", out)
	}
	if shown := runOK(t, "", "client", "show", "--config", cfg, "--user", "3"); field(t, shown, "session") != "never" {
		t.Fatalf("show reported\n%s", shown)
	}

	expired := strings.TrimSpace(runOK(t, "", "token", "new", "--config", cfg, "--user", "3", "--ttl=-1h"))
	var buf bytes.Buffer
	err := run(context.Background(), []string{"token", "verify", "--config", cfg, expired}, nil, &buf)
	if !errors.Is(err, token.ErrTokenExpired) {
		t.Fatalf("verify expired token: %v", err)
	}

	err = run(context.Background(), []string{"token", "verify", "--config", cfg, "bad-token"}, nil, &buf)
	if !errors.Is(err, token.ErrTokenInvalid) {
		t.Fatalf("verify bad token: %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	cases := [][]string{
		{},
		{"frobnicate"},
		{"client"},
		{"client", "new"},
		{"client", "revoke"},
		{"client", "explode", "--id", "1"},
		{"token", "new"},
		{"token", "login"},
	}
	for _, args := range cases {
		var buf bytes.Buffer
		if err := run(context.Background(), args, strings.NewReader(""), &buf); !errors.Is(err, errUsage) {
			t.Errorf("refitt-admin %v: error = %v, want usage error", args, err)
		}
	}
}
