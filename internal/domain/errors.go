package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the store, the coordinator and the transport layer.
var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrPartialFailure   = errors.New("partial failure")
)

// ValidationError describes a malformed identifier or a missing required field.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError for the given field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

// Is reports ErrValidation so callers can match on the sentinel.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
