package pipeline

import (
	"errors"
	"fmt"
	"strings"

	domainErrors "github.com/cassiomorais/eventrelay/internal/domain/errors"
)

// Outcome classifies the result of a handler.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeValidation Outcome = "validation_failure"
	OutcomeNotFound   Outcome = "not_found"
	OutcomeError      Outcome = "error"
)

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationFailure is returned when a command does not pass validation.
type ValidationFailure struct {
	Errors []FieldError
}

func (f *ValidationFailure) Error() string {
	parts := make([]string, 0, len(f.Errors))
	for _, e := range f.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (f *ValidationFailure) Is(target error) bool {
	return target == domainErrors.ErrValidationFailed
}

// Classify maps a handler error onto an Outcome. Business rule violations
// count as OutcomeError.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, domainErrors.ErrValidationFailed) {
		return OutcomeValidation
	}
	if domainErrors.IsNotFound(err) {
		return OutcomeNotFound
	}
	return OutcomeError
}

// FieldErrors extracts field failures from err, if it carries any.
func FieldErrors(err error) []FieldError {
	var vf *ValidationFailure
	if errors.As(err, &vf) {
		return vf.Errors
	}
	var ve *domainErrors.ValidationError
	if errors.As(err, &ve) {
		return []FieldError{{Field: ve.Field, Message: ve.Message}}
	}
	return nil
}
