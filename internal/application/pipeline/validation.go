package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Validator inspects a command and returns its field failures.
type Validator[C any] func(ctx context.Context, cmd C) []FieldError

type erasedValidator func(ctx context.Context, cmd any) []FieldError

// ValidatorRegistry holds the validators registered per command type. Struct
// commands are additionally checked against their `validate` tags.
type ValidatorRegistry struct {
	mu      sync.RWMutex
	structs *validator.Validate
	byType  map[reflect.Type][]erasedValidator
}

func NewValidatorRegistry() *ValidatorRegistry {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		switch name {
		case "-":
			return ""
		case "":
			return fld.Name
		}
		return name
	})

	return &ValidatorRegistry{
		structs: v,
		byType:  make(map[reflect.Type][]erasedValidator),
	}
}

// RegisterValidator adds v to the validators run for commands of type C.
func RegisterValidator[C any](r *ValidatorRegistry, v Validator[C]) {
	t := reflect.TypeFor[C]()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[t] = append(r.byType[t], func(ctx context.Context, cmd any) []FieldError {
		return v(ctx, cmd.(C))
	})
}

// ValidateCommand runs struct-tag validation and every validator registered for C.
func ValidateCommand[C any](ctx context.Context, r *ValidatorRegistry, cmd C) []FieldError {
	if r == nil {
		return nil
	}

	var failures []FieldError

	if rv := reflect.ValueOf(cmd); rv.IsValid() && !(rv.Kind() == reflect.Pointer && rv.IsNil()) &&
		reflect.Indirect(rv).Kind() == reflect.Struct {
		err := r.structs.StructCtx(ctx, cmd)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				failures = append(failures, FieldError{Field: fe.Field(), Message: describeTag(fe)})
			}
		}
	}

	r.mu.RLock()
	validators := r.byType[reflect.TypeFor[C]()]
	r.mu.RUnlock()

	for _, v := range validators {
		failures = append(failures, v(ctx, cmd)...)
	}

	return failures
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "email":
		return "must be a valid email"
	}
	if fe.Param() != "" {
		return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("failed %s check", fe.Tag())
}

// Validation short-circuits with a *ValidationFailure when any validator
// reports a failure; the inner chain is then never invoked.
func Validation[C, R any](registry *ValidatorRegistry) Decorator[C, R] {
	return func(next Handler[C, R]) Handler[C, R] {
		return func(ctx context.Context, cmd C) (R, error) {
			if err := ctx.Err(); err != nil {
				var zero R
				return zero, err
			}

			if failures := ValidateCommand(ctx, registry, cmd); len(failures) > 0 {
				var zero R
				return zero, &ValidationFailure{Errors: failures}
			}

			return next(ctx, cmd)
		}
	}
}
