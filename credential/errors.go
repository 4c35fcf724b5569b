package credential

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidLength = errors.New("invalid length")
	ErrInvalidDigits = errors.New("invalid characters")
	ErrInvalidSize   = errors.New("size must be positive")
	ErrNotGenerable  = errors.New("kind has no fixed length")
)

// ValidationError reports a credential value that does not satisfy the
// constraints of its kind. Field names the kind ("key", "secret", ...).
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s", e.Field)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
