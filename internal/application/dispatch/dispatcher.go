// Package dispatch routes domain events to in-process handlers registered
// by the composition root.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/cassiomorais/eventrelay/internal/domain/event"
	"github.com/rs/zerolog"
)

var (
	ErrEventTypeMismatch = errors.New("event does not match handler type")
	ErrHandlerRequired   = errors.New("handler factory is required")
)

// Handler reacts to one domain event type. Handlers may stage integration
// events through event.Stage on the ctx they receive.
type Handler[E event.DomainEvent] interface {
	Handle(ctx context.Context, e E) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[E event.DomainEvent] func(ctx context.Context, e E) error

func (f HandlerFunc[E]) Handle(ctx context.Context, e E) error {
	return f(ctx, e)
}

type registration struct {
	name   string
	invoke func(ctx context.Context, e event.DomainEvent) error
}

// Dispatcher invokes the handlers registered for each event's exact dynamic
// type, sequentially and in registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]registration
	logger   zerolog.Logger
}

func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[reflect.Type][]registration),
		logger:   logger.With().Str("component", "domain_event_dispatcher").Logger(),
	}
}

// Register adds a handler for events of type E. factory is called once per
// dispatched event so every event gets a fresh handler.
func Register[E event.DomainEvent](d *Dispatcher, factory func() Handler[E]) error {
	if factory == nil {
		return ErrHandlerRequired
	}

	t := reflect.TypeFor[E]()
	reg := registration{
		name: t.String(),
		invoke: func(ctx context.Context, e event.DomainEvent) error {
			typed, ok := e.(E)
			if !ok {
				return fmt.Errorf("%w: got %T, want %s", ErrEventTypeMismatch, e, t)
			}
			h := factory()
			if h == nil {
				return fmt.Errorf("%s: %w", t, ErrHandlerRequired)
			}
			return h.Handle(ctx, typed)
		},
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = append(d.handlers[t], reg)
	return nil
}

// MustRegister is Register for wiring code that cannot proceed on error.
func MustRegister[E event.DomainEvent](d *Dispatcher, factory func() Handler[E]) {
	if err := Register(d, factory); err != nil {
		panic(err)
	}
}

// Dispatch runs the handlers for every event in order. The first handler
// error stops dispatching and is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, events []event.DomainEvent) error {
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e == nil {
			continue
		}

		t := reflect.TypeOf(e)
		d.mu.RLock()
		regs := d.handlers[t]
		d.mu.RUnlock()

		if len(regs) == 0 {
			d.logger.Debug().Str("event_type", t.String()).Msg("no handlers registered")
			continue
		}

		for _, reg := range regs {
			if err := reg.invoke(ctx, e); err != nil {
				return fmt.Errorf("dispatch %s: %w", reg.name, err)
			}
		}
	}
	return nil
}

// HandlerCount reports how many handlers are registered for e's type.
func (d *Dispatcher) HandlerCount(e event.DomainEvent) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[reflect.TypeOf(e)])
}
