package auth

import "errors"

var (
	// ErrAuthorizationNotFound indicates no client is registered for the presented key.
	ErrAuthorizationNotFound = errors.New("authorization not found")
	// ErrAuthorizationInvalid indicates the presented secret does not match the client's.
	ErrAuthorizationInvalid = errors.New("authorization invalid")
	ErrAccessRevoked        = errors.New("access has been revoked")
	ErrLevelInsufficient    = errors.New("authorization level insufficient")
	ErrCredentialsMissing   = errors.New("missing key:secret")

	ErrClientNotFound  = errors.New("client not found")
	ErrClientExists    = errors.New("client already exists")
	ErrSessionNotFound = errors.New("session not found")
)
