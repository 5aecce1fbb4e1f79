// Package pipeline composes command handlers with cross-cutting decorators.
//
// The standard chain, outermost first, is logging, validation, transaction
// and outbox. A handler only reaches the database when validation passes,
// and staged integration events reach the outbox table in the same unit of
// work as the business change, committed only on success.
package pipeline

import (
	"context"
	"time"

	"github.com/cassiomorais/eventrelay/internal/domain/outbox"
	"github.com/rs/zerolog"
)

// Handler executes one command and returns its value or a failure.
type Handler[C, R any] func(ctx context.Context, cmd C) (R, error)

// Decorator wraps the next stage of a chain.
type Decorator[C, R any] func(next Handler[C, R]) Handler[C, R]

// Builder assembles a chain around a business handler. Decorators added
// first run outermost.
type Builder[C, R any] struct {
	name       string
	handler    Handler[C, R]
	decorators []Decorator[C, R]
}

func New[C, R any](name string, handler Handler[C, R]) *Builder[C, R] {
	return &Builder[C, R]{name: name, handler: handler}
}

func (b *Builder[C, R]) Name() string {
	return b.name
}

func (b *Builder[C, R]) Use(decorators ...Decorator[C, R]) *Builder[C, R] {
	for _, d := range decorators {
		if d != nil {
			b.decorators = append(b.decorators, d)
		}
	}
	return b
}

func (b *Builder[C, R]) Build() Handler[C, R] {
	h := b.handler
	for i := len(b.decorators) - 1; i >= 0; i-- {
		h = b.decorators[i](h)
	}
	return h
}

// MetricsRecorder receives one observation per finished command.
type MetricsRecorder interface {
	ObserveCommand(command string, outcome string, duration time.Duration)
}

// Deps are the collaborators of the standard chain.
type Deps struct {
	Logger             zerolog.Logger
	Metrics            MetricsRecorder
	Validators         *ValidatorRegistry
	UnitOfWork         UnitOfWorkFactory
	Outbox             outbox.Writer
	DefaultDestination string
	Clock              func() time.Time
}

// Command builds the fixed command chain: logging, validation, transaction, outbox.
func Command[C, R any](name string, handler Handler[C, R], deps Deps) Handler[C, R] {
	return New(name, handler).
		Use(
			Logging[C, R](name, deps.Logger, deps.Metrics),
			Validation[C, R](deps.Validators),
			Transaction[C, R](deps.UnitOfWork, deps.Logger),
			Outbox[C, R](deps.Outbox, deps.DefaultDestination, deps.Clock),
		).
		Build()
}

// Query builds a read-only chain: logging and validation.
func Query[C, R any](name string, handler Handler[C, R], deps Deps) Handler[C, R] {
	return New(name, handler).
		Use(
			Logging[C, R](name, deps.Logger, deps.Metrics),
			Validation[C, R](deps.Validators),
		).
		Build()
}
