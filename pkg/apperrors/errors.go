// Package apperrors defines the error taxonomy shared by services and
// handlers. Sentinels are matched with errors.Is; ValidationError is
// matched with errors.As so handlers can surface the offending field.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a data source does not exist or is
	// scoped to a different organization.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied is returned when the caller lacks the
	// capability required for an operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUpstream is returned when a live connector call fails. The
	// caller may retry later; this core never retries internally.
	ErrUpstream = errors.New("upstream connector error")
	// ErrSecretsKeyMismatch is returned when stored options were
	// encrypted with a different key.
	ErrSecretsKeyMismatch = errors.New("data source options were encrypted with a different key")
)

// ValidationError reports the first configuration violation found,
// with enough detail for the caller to correct it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on field %q: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
