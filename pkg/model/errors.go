package model

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyExists = errors.New("object already exists")
	ErrNotFound      = errors.New("not found")
	ErrLockTimeout   = errors.New("lock wait timeout exceeded")
	ErrUnknownStatus = errors.New("unknown status")

	// ErrInvalidTransition is matched by lifecycle transition errors.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError describes a rejected request. Nothing is written when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field string, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err (or anything it wraps) is a *ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
