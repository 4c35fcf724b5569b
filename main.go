package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/refitt/refitt-sub002/api"
	"github.com/refitt/refitt-sub002/auth"
	"github.com/refitt/refitt-sub002/config"
	"github.com/refitt/refitt-sub002/crypt"
	"github.com/refitt/refitt-sub002/db"
	"github.com/refitt/refitt-sub002/logger"
	"github.com/refitt/refitt-sub002/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(fmt.Errorf("load config: %w", err))
	}
	logger.SetLevel(cfg.LogLevel)

	cipher, err := crypt.New(cfg.API.Cipher, cfg.API.RootKey)
	if err != nil {
		logger.Fatal(fmt.Errorf("init cipher: %w", err))
	}

	sqlDB, err := db.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal(fmt.Errorf("init db: %w", err))
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logger.LogErr(fmt.Errorf("close db: %w", err))
		}
	}()

	if err := db.EnsureSchema(ctx, sqlDB, cfg.Database.Driver); err != nil {
		logger.Fatal(fmt.Errorf("init schema: %w", err))
	}

	store := auth.NewStore(sqlDB)
	svc := auth.NewService(store, cipher, serviceOptions(cfg.API, store)...)
	router := api.NewRouter(svc, session.NewManager(svc))

	server := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", cfg.API.Listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(fmt.Errorf("http server failed: %w", err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.LogErr(fmt.Errorf("http server shutdown: %w", err))
		}
	}
}

func serviceOptions(cfg config.APIConfig, store *auth.Store) []auth.Option {
	opts := []auth.Option{auth.WithSessionRecorder(store)}
	if cfg.NoExpiration {
		opts = append(opts, auth.WithoutExpiration())
	} else {
		opts = append(opts, auth.WithTokenTTL(cfg.TokenTTL))
	}
	return opts
}
