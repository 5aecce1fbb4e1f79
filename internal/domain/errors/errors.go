package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the root of every "entity does not exist" error.
	ErrNotFound = errors.New("not found")

	// Account errors
	ErrAccountNotFound      = fmt.Errorf("account %w", ErrNotFound)
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidCurrency      = errors.New("invalid currency")
	ErrAccountInactive      = errors.New("account is inactive")
	ErrOptimisticLockFailed = errors.New("optimistic lock conflict")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a single field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// Is lets callers match any field failure against ErrValidationFailed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsNotFound reports whether err describes a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
