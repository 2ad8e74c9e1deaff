package memory

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by operations that require an existing item.
var ErrNotFound = errors.New("memory item not found")

// ValidationError reports a constraint violation detected before any
// mutation. The store it was returned from is unchanged.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
