package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/eventrelay/internal/domain/errors"
)

var (
	ErrInvalidClaim     = errors.New("batch size and lock duration must be positive")
	ErrMessageNotFound  = fmt.Errorf("outbox message %w", domainErrors.ErrNotFound)
	ErrEventTypeMissing = errors.New("outbox event type is required")
	ErrDestinationEmpty = errors.New("outbox destination is required")
)

// Message is one durable unit of reliable delivery.
type Message struct {
	ID                 int64
	EventType          string
	Payload            []byte
	Destination        string
	OccurredOnUTC      time.Time
	ProcessedAtUTC     *time.Time
	ProcessingAttempts int
	Error              *string
	LockedUntilUTC     *time.Time
}

// NewMessage serializes payload to JSON and returns a pending message.
// ID is assigned by the store on insert.
func NewMessage(eventType, destination string, payload any, occurredOn time.Time) (*Message, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, ErrEventTypeMissing
	}
	if strings.TrimSpace(destination) == "" {
		return nil, ErrDestinationEmpty
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return &Message{
		EventType:     eventType,
		Payload:       body,
		Destination:   destination,
		OccurredOnUTC: occurredOn.UTC(),
	}, nil
}

// IsTerminal reports whether delivery (success or permanent failure) was recorded.
func (m Message) IsTerminal() bool {
	return m.ProcessedAtUTC != nil
}

// IsLocked reports whether a claim lock is still in force at now.
func (m Message) IsLocked(now time.Time) bool {
	return m.LockedUntilUTC != nil && m.LockedUntilUTC.After(now)
}

// Claimable reports whether a dispatcher may claim the message at now.
func (m Message) Claimable(now time.Time) bool {
	return !m.IsTerminal() && !m.IsLocked(now)
}

// Stats summarizes the outbox table.
type Stats struct {
	Pending   int64 `json:"pending"`
	Locked    int64 `json:"locked"`
	Completed int64 `json:"completed"`
	Errored   int64 `json:"errored"`
}
