// Package event holds the in-process domain event contracts and the
// per-request accumulator for integration events bound for the outbox.
package event

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNoAccumulator = errors.New("no integration event accumulator in context")

// DomainEvent is an in-process notification raised by an aggregate.
type DomainEvent interface {
	OccurredAt() time.Time
}

// IntegrationEvent is a message for external consumers. EventType is the
// name consumers deserialize by; the event itself is serialized to JSON.
type IntegrationEvent interface {
	EventType() string
	OccurredAt() time.Time
}

// Base carries the identity and timestamp shared by concrete events.
type Base struct {
	ID       uuid.UUID `json:"id"`
	Occurred time.Time `json:"occurred_at"`
}

// NewBase stamps a fresh event identity at the current UTC time.
func NewBase() Base {
	return Base{ID: uuid.New(), Occurred: time.Now().UTC()}
}

func (b Base) OccurredAt() time.Time {
	return b.Occurred
}
