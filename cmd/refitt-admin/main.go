// refitt-admin manages API credentials: it generates root keys,
// provisions and rotates client credentials, and issues or checks tokens
// against the configured database.
//
// Configuration is read like the API server's (REFITT_CONFIG plus
// REFITT_* overrides) unless --config names a file.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/refitt/refitt-sub002/auth"
	"github.com/refitt/refitt-sub002/config"
	"github.com/refitt/refitt-sub002/crypt"
	"github.com/refitt/refitt-sub002/db"
	"github.com/refitt/refitt-sub002/logger"
)

const usage = `usage: refitt-admin <command> [flags]

commands:
  keygen                       print a new root key
  client new --user ID         register a client and print its key and secret
  client show --user ID        print a client record and its last session
  client rotate-secret --id ID replace a client's secret
  client rotate-key --id ID    replace a client's key and secret
  client revoke --id ID        revoke a client's access
  client restore --id ID       restore a revoked client
  token new --user ID          issue a token for a user's client
  token verify [TOKEN]         check a token (read from stdin if omitted)
  token login --key KEY        exchange a key and secret for a token

every command except keygen accepts --config PATH
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errUsage
	}

	switch args[0] {
	case "keygen":
		return runKeygen(stdout)
	case "client":
		return runClient(ctx, args[1:], stdout)
	case "token":
		return runToken(ctx, args[1:], stdin, stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func runKeygen(stdout io.Writer) error {
	key, err := crypt.NewRootKey()
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, key.Value())
	return nil
}

// app holds what every database-backed command needs.
type app struct {
	cfg   *config.Config
	db    *sql.DB
	store *auth.Store
	svc   *auth.Service
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		logger.LogErr(fmt.Errorf("close db: %w", err))
	}
}

func open(ctx context.Context, configPath string, opts ...auth.Option) (*app, error) {
	if configPath == "" {
		configPath = os.Getenv(config.EnvConfigPath)
	}
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.LogLevel)

	cipher, err := crypt.New(cfg.API.Cipher, cfg.API.RootKey)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.New(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx, sqlDB, cfg.Database.Driver); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	store := auth.NewStore(sqlDB)
	base := []auth.Option{auth.WithSessionRecorder(store)}
	if cfg.API.NoExpiration {
		base = append(base, auth.WithoutExpiration())
	} else {
		base = append(base, auth.WithTokenTTL(cfg.API.TokenTTL))
	}

	return &app{
		cfg:   cfg,
		db:    sqlDB,
		store: store,
		svc:   auth.NewService(store, cipher, append(base, opts...)...),
	}, nil
}

func newFlagSet(name string, stdout io.Writer) (*pflag.FlagSet, *string) {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(stdout)
	configPath := flagSet.String("config", "", "path to YAML configuration")
	return flagSet, configPath
}

func runClient(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: client requires a subcommand", errUsage)
	}
	sub := args[0]

	flagSet, configPath := newFlagSet("client "+sub, stdout)
	userID := flagSet.Int64("user", -1, "user id")
	clientID := flagSet.Int64("id", -1, "client id")
	level := flagSet.Int("level", auth.DefaultClientLevel, "authorization level for new clients")
	if err := flagSet.Parse(args[1:]); err != nil {
		return err
	}

	requireUser := func() error {
		if *userID < 0 {
			return fmt.Errorf("%w: --user is required", errUsage)
		}
		return nil
	}
	requireID := func() error {
		if *clientID < 0 {
			return fmt.Errorf("%w: --id is required", errUsage)
		}
		return nil
	}

	switch sub {
	case "new", "show":
		if err := requireUser(); err != nil {
			return err
		}
	case "rotate-secret", "rotate-key", "revoke", "restore":
		if err := requireID(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown client subcommand %q", errUsage, sub)
	}

	a, err := open(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	switch sub {
	case "new":
		client, creds, err := a.store.CreateClient(ctx, *userID, *level)
		if err != nil {
			return err
		}
		printClient(stdout, client)
		fmt.Fprintf(stdout, "key:     %s\nsecret:  %s\n", creds.Key.Value(), creds.Secret.Value())
	case "show":
		client, err := a.store.LookupByUser(ctx, *userID)
		if err != nil {
			return err
		}
		printClient(stdout, client)

		sessionExpires := "none"
		session, err := a.store.LookupSession(ctx, client.ID)
		switch {
		case errors.Is(err, auth.ErrSessionNotFound):
		case err != nil:
			return err
		case session.ExpiresAt == nil:
			sessionExpires = "never"
		default:
			sessionExpires = session.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(stdout, "session: %s\n", sessionExpires)
	case "rotate-secret":
		client, secret, err := a.store.RotateSecret(ctx, *clientID)
		if err != nil {
			return err
		}
		printClient(stdout, client)
		fmt.Fprintf(stdout, "secret:  %s\n", secret.Value())
	case "rotate-key":
		client, creds, err := a.store.RotateKey(ctx, *clientID)
		if err != nil {
			return err
		}
		printClient(stdout, client)
		fmt.Fprintf(stdout, "key:     %s\nsecret:  %s\n", creds.Key.Value(), creds.Secret.Value())
	case "revoke", "restore":
		if err := a.store.SetValid(ctx, *clientID, sub == "restore"); err != nil {
			return err
		}
		client, err := a.store.LookupByID(ctx, *clientID)
		if err != nil {
			return err
		}
		printClient(stdout, client)
	}
	return nil
}

func printClient(w io.Writer, c *auth.Client) {
	fmt.Fprintf(w, "client:  %d\nuser:    %d\nlevel:   %d\nvalid:   %t\ncreated: %s\n",
		c.ID, c.UserID, c.Level, c.Valid, c.Created.Format(time.RFC3339))
}

func runToken(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: token requires a subcommand", errUsage)
	}
	sub := args[0]

	flagSet, configPath := newFlagSet("token "+sub, stdout)
	userID := flagSet.Int64("user", -1, "user id")
	ttl := flagSet.Duration("ttl", 0, "token lifetime (defaults to api.token_ttl)")
	noExpire := flagSet.Bool("no-expire", false, "issue a token that never expires")
	key := flagSet.String("key", "", "client key")
	secretFile := flagSet.String("secret-file", "", "read the client secret from this file instead of prompting")
	if err := flagSet.Parse(args[1:]); err != nil {
		return err
	}

	var opts []auth.Option
	if flagSet.Changed("ttl") {
		opts = append(opts, auth.WithTokenTTL(*ttl))
	}
	if *noExpire {
		opts = append(opts, auth.WithoutExpiration())
	}

	switch sub {
	case "new":
		if *userID < 0 {
			return fmt.Errorf("%w: --user is required", errUsage)
		}
		a, err := open(ctx, *configPath, opts...)
		if err != nil {
			return err
		}
		defer a.Close()

		tok, claim, err := a.svc.IssueForUser(ctx, *userID)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, tok)
		logger.Info("issued %s", claim)
		return nil

	case "verify":
		tok := strings.TrimSpace(flagSet.Arg(0))
		if tok == "" {
			line, err := bufio.NewReader(stdin).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read token: %w", err)
			}
			tok = strings.TrimSpace(line)
		}
		a, err := open(ctx, *configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		claim, err := a.svc.VerifyClaim(tok)
		if err != nil {
			return err
		}
		expires := "never"
		if claim.ExpiresAt != nil {
			expires = claim.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(stdout, "client:  %d\nexpires: %s\n", claim.Subject, expires)
		return nil

	case "login":
		if *key == "" {
			return fmt.Errorf("%w: --key is required", errUsage)
		}
		secret, err := readSecret(*secretFile, stdin)
		if err != nil {
			return err
		}
		a, err := open(ctx, *configPath, opts...)
		if err != nil {
			return err
		}
		defer a.Close()

		tok, _, err := a.svc.Login(ctx, *key, secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, tok)
		return nil

	default:
		return fmt.Errorf("%w: unknown token subcommand %q", errUsage, sub)
	}
}

// readSecret reads a client secret from path, from the terminal with echo
// disabled, or from the first line of stdin when it is not a terminal.
func readSecret(path string, stdin io.Reader) (string, error) {
	if path != "" && path != "-" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(os.Stderr, "Secret: ")
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(string(secret)), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}
