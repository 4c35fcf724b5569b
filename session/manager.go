package session

import (
	"context"
	"net/http"
	"strings"

	"github.com/refitt/refitt-sub002/auth"
	"github.com/refitt/refitt-sub002/logger"
	"github.com/refitt/refitt-sub002/response"
	"github.com/refitt/refitt-sub002/token"
)

type ctxKey string

const (
	clientContextKey ctxKey = "client"

	bearerScheme = "Bearer"
)

// Authenticator resolves a bearer token to the client it was issued to.
type Authenticator interface {
	Authenticate(ctx context.Context, tok string) (*auth.Client, error)
}

// Manager authenticates requests carrying "Authorization: Bearer <token>".
type Manager struct {
	auth Authenticator
}

func NewManager(a Authenticator) *Manager {
	return &Manager{auth: a}
}

// Middleware rejects requests without a valid bearer token and stores the
// authenticated client in the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := BearerToken(r)
		if err != nil {
			response.Fail(w, err)
			return
		}

		client, err := m.auth.Authenticate(r.Context(), tok)
		if err != nil {
			logger.Debug("%s %s rejected: %v", r.Method, r.URL.Path, err)
			response.Fail(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientContextKey, client)))
	})
}

// RequireLevel authenticates like Middleware and additionally requires the
// client's level to be at most level.
func (m *Manager) RequireLevel(level int, next http.Handler) http.Handler {
	return m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, _ := FromContext(r.Context())
		if err := auth.RequireLevel(client, level); err != nil {
			response.Fail(w, err)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// BearerToken extracts the token from the Authorization header. A missing
// or malformed header yields token.ErrTokenNotFound.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", token.ErrTokenNotFound
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", token.ErrTokenNotFound
	}
	return value, nil
}

// FromContext returns the client stored by the middleware.
func FromContext(ctx context.Context) (*auth.Client, bool) {
	val, ok := ctx.Value(clientContextKey).(*auth.Client)
	return val, ok && val != nil
}
