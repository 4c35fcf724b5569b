package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/refitt/refitt-sub002/auth"
	"github.com/refitt/refitt-sub002/response"
	"github.com/refitt/refitt-sub002/token"
)

// TokenIssuer is the part of auth.Service the token endpoints use.
type TokenIssuer interface {
	Login(ctx context.Context, key, secret string) (string, *token.Claim, error)
	IssueForUser(ctx context.Context, userID int64) (string, *token.Claim, error)
}

// TokenHandler exchanges HTTP Basic "key:secret" credentials for a token.
type TokenHandler struct {
	issuer TokenIssuer
}

func NewTokenHandler(issuer TokenIssuer) http.Handler {
	return &TokenHandler{issuer: issuer}
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, secret, ok := r.BasicAuth()
	if !ok {
		response.Fail(w, auth.ErrCredentialsMissing)
		return
	}

	tok, claim, err := h.issuer.Login(r.Context(), key, secret)
	if err != nil {
		response.Fail(w, err)
		return
	}

	response.Success(w, ResponseToken{Token: tok, Expires: claim.ExpiresAt})
}

// UserTokenHandler issues a token on behalf of the user named in the path.
// It must be mounted behind a level check.
type UserTokenHandler struct {
	issuer TokenIssuer
}

func NewUserTokenHandler(issuer TokenIssuer) http.Handler {
	return &UserTokenHandler{issuer: issuer}
}

func (h *UserTokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["user_id"]
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID < 0 {
		response.Fail(w, response.NewError(http.StatusBadRequest, "Invalid user_id %q", raw))
		return
	}

	tok, claim, err := h.issuer.IssueForUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrAuthorizationNotFound) {
			response.Fail(w, response.NewError(http.StatusNotFound, "No client found for user_id %d", userID))
			return
		}
		response.Fail(w, err)
		return
	}

	response.Success(w, ResponseToken{Token: tok, Expires: claim.ExpiresAt})
}
