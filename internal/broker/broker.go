// Package broker defines the message broker port used by the outbox
// dispatcher: envelopes, size-bounded batches and senders.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrMessageTooLarge marks a message that cannot fit an empty batch.
	ErrMessageTooLarge = errors.New("message exceeds broker batch size limit")

	// ErrUnavailable marks transport failures worth retrying later.
	ErrUnavailable = errors.New("broker unavailable")

	// ErrCircuitOpen is returned while the sender's circuit breaker is open.
	ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", ErrUnavailable)

	ErrSenderClosed = errors.New("sender is closed")
)

// envelopeOverhead approximates the per-message framing a broker adds.
const envelopeOverhead = 64

// Envelope is the broker representation of one outbox message.
type Envelope struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	Source          string            `json:"source"`
	Time            time.Time         `json:"time"`
	Destination     string            `json:"destination"`
	DataContentType string            `json:"datacontenttype"`
	Data            json.RawMessage   `json:"data"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// Size estimates the encoded size of the envelope in bytes.
func (e Envelope) Size() int {
	n := envelopeOverhead + len(e.ID) + len(e.Type) + len(e.Source) + len(e.Destination) +
		len(e.DataContentType) + len(e.Data) + len(time.RFC3339Nano)
	for k, v := range e.Attributes {
		n += len(k) + len(v)
	}
	return n
}

// AttributeKeys returns attribute keys in sorted order.
func (e Envelope) AttributeKeys() []string {
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Batch accumulates envelopes for a single destination.
type Batch interface {
	Destination() string
	// TryAdd appends e if it fits within the batch limits.
	TryAdd(e Envelope) bool
	Envelopes() []Envelope
	Len() int
}

// Sender creates batches and sends them. Send returns nil when every
// envelope was accepted, a *BatchError when only some failed, and any other
// error when the whole batch failed.
type Sender interface {
	CreateBatch(destination string) Batch
	Send(ctx context.Context, batch Batch) error
}

// BatchError reports per-envelope failures by index into Batch.Envelopes().
type BatchError struct {
	Failures map[int]error
}

func (e *BatchError) Error() string {
	idx := make([]int, 0, len(e.Failures))
	for i := range e.Failures {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("[%d] %v", i, e.Failures[i]))
	}
	return fmt.Sprintf("%d message(s) failed: %s", len(idx), strings.Join(parts, "; "))
}

// ErrorAt returns the failure for envelope i, or nil if it was accepted.
func (e *BatchError) ErrorAt(i int) error {
	return e.Failures[i]
}

// PerMessage expands the result of Send into one error per envelope.
func PerMessage(n int, sendErr error) []error {
	out := make([]error, n)
	if sendErr == nil {
		return out
	}

	var be *BatchError
	if errors.As(sendErr, &be) {
		for i := range out {
			out[i] = be.ErrorAt(i)
		}
		return out
	}

	for i := range out {
		out[i] = sendErr
	}
	return out
}
