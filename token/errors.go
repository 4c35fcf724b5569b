package token

import (
	"errors"
	"fmt"
)

var (
	ErrTokenNotFound  = errors.New("token not found")
	ErrTokenInvalid   = errors.New("token invalid")
	ErrTokenExpired   = errors.New("token expired")
	ErrMalformedClaim = errors.New("malformed claim")
)

// InvalidError is returned when a token string cannot be decrypted or
// decoded. It carries only a fingerprint of the offending token.
type InvalidError struct {
	Fingerprint string
	Err         error
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("token invalid: '%s'", e.Fingerprint)
}

func (e *InvalidError) Unwrap() error {
	return e.Err
}

func (e *InvalidError) Is(target error) bool {
	return target == ErrTokenInvalid
}
