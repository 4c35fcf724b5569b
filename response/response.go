// Package response writes the JSON envelope used by every API endpoint
// and maps service errors onto it.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/refitt/refitt-sub002/auth"
	"github.com/refitt/refitt-sub002/credential"
	"github.com/refitt/refitt-sub002/logger"
	"github.com/refitt/refitt-sub002/token"
)

const (
	StatusSuccess = "Success"
	StatusError   = "Error"
)

type successBody struct {
	Status   string      `json:"Status"`
	Response interface{} `json:"Response"`
}

type errorBody struct {
	Status  string `json:"Status"`
	Message string `json:"Message"`
}

// Error is an error with a fixed HTTP status and client-facing message.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewError(status int, format string, args ...interface{}) error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// Success writes payload with status 200.
func Success(w http.ResponseWriter, payload interface{}) {
	write(w, http.StatusOK, successBody{Status: StatusSuccess, Response: payload})
}

// Fail writes the envelope for err. Unrecognised errors are logged and
// reported as 500 without detail.
func Fail(w http.ResponseWriter, err error) {
	status, message := Describe(err)
	if status == http.StatusInternalServerError {
		logger.Error(err)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="refitt"`)
	}
	write(w, status, errorBody{Status: StatusError, Message: message})
}

// Describe returns the HTTP status and message reported for err.
// Credential problems, revocation, insufficient level and expiry are
// 401; a missing or undecryptable token is 403.
func Describe(err error) (int, string) {
	var (
		respErr  *Error
		validErr *credential.ValidationError
		invalid  *token.InvalidError
	)
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.As(err, &respErr):
		return respErr.Status, respErr.Message
	case errors.Is(err, auth.ErrCredentialsMissing):
		return http.StatusUnauthorized, "Missing key:secret in header"
	case errors.As(err, &validErr):
		if validErr.Field == credential.Secret.Name {
			return http.StatusUnauthorized, "Client secret invalid"
		}
		return http.StatusUnauthorized, "Client key invalid"
	case errors.Is(err, auth.ErrAuthorizationNotFound):
		return http.StatusUnauthorized, "Client key invalid"
	case errors.Is(err, auth.ErrAuthorizationInvalid):
		return http.StatusUnauthorized, "Client secret invalid"
	case errors.Is(err, auth.ErrAccessRevoked):
		return http.StatusUnauthorized, "Access has been revoked"
	case errors.Is(err, auth.ErrLevelInsufficient):
		return http.StatusUnauthorized, "Authorization level insufficient"
	case errors.Is(err, token.ErrTokenExpired):
		return http.StatusUnauthorized, "Token expired"
	case errors.Is(err, token.ErrTokenNotFound):
		return http.StatusForbidden, `Expected "Authorization: Bearer <token>" in header`
	case errors.As(err, &invalid):
		return http.StatusForbidden, fmt.Sprintf("Token invalid: '%s'", invalid.Fingerprint)
	case errors.Is(err, token.ErrTokenInvalid):
		return http.StatusForbidden, "Token invalid"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func write(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error(err)
	}
}
