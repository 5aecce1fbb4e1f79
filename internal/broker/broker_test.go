package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(id string, dataLen int) Envelope {
	return Envelope{
		ID:          id,
		Type:        "account.opened",
		Source:      "eventrelay",
		Time:        time.Now(),
		Destination: "accounts",
		Data:        json.RawMessage(`"` + strings.Repeat("x", dataLen) + `"`),
	}
}

func TestSizedBatch_MessageLimit(t *testing.T) {
	b := NewSizedBatch("accounts", 0, 2)

	assert.True(t, b.TryAdd(envelope("1", 10)))
	assert.True(t, b.TryAdd(envelope("2", 10)))
	assert.False(t, b.TryAdd(envelope("3", 10)))
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, "accounts", b.Destination())
}

func TestSizedBatch_ByteLimit(t *testing.T) {
	small := envelope("1", 10)
	b := NewSizedBatch("accounts", small.Size()*2, 0)

	assert.True(t, b.TryAdd(small))
	assert.True(t, b.TryAdd(envelope("2", 10)))
	assert.False(t, b.TryAdd(envelope("3", 1)), "a third message exceeds the byte limit")
	assert.Equal(t, small.Size()*2, b.SizeBytes())
}

func TestSizedBatch_OversizedMessageNeverFits(t *testing.T) {
	b := NewSizedBatch("accounts", 256, 100)

	assert.False(t, b.TryAdd(envelope("big", 1024)))
	assert.Zero(t, b.Len())
}

func TestEnvelope_SizeIncludesAttributes(t *testing.T) {
	e := envelope("1", 10)
	base := e.Size()

	e.Attributes = map[string]string{"tenant": "acme"}
	assert.Equal(t, base+len("tenant")+len("acme"), e.Size())

	e.Attributes["a"] = "b"
	assert.Equal(t, []string{"a", "tenant"}, e.AttributeKeys())
}

func TestPerMessage(t *testing.T) {
	boom := errors.New("boom")

	assert.Equal(t, []error{nil, nil, nil}, PerMessage(3, nil))
	assert.Equal(t, []error{boom, boom}, PerMessage(2, boom))

	partial := &BatchError{Failures: map[int]error{1: boom}}
	assert.Equal(t, []error{nil, boom, nil}, PerMessage(3, partial))
	assert.Equal(t, []error{nil, boom, nil}, PerMessage(3, errors.Join(partial)))
}

func TestBatchError_Message(t *testing.T) {
	err := &BatchError{Failures: map[int]error{
		2: errors.New("second"),
		0: errors.New("first"),
	}}

	assert.Equal(t, "2 message(s) failed: [0] first; [2] second", err.Error())
	assert.Nil(t, err.ErrorAt(1))
}

type scriptedSender struct {
	errs  []error
	calls int
}

func (s *scriptedSender) CreateBatch(destination string) Batch {
	return NewSizedBatch(destination, 0, 0)
}

func (s *scriptedSender) Send(ctx context.Context, b Batch) error {
	i := s.calls
	s.calls++
	if i < len(s.errs) {
		return s.errs[i]
	}
	return nil
}

func TestBreakerSender_OpensOnTransportFailures(t *testing.T) {
	down := fmt.Errorf("%w: connection refused", ErrUnavailable)
	next := &scriptedSender{errs: []error{down, down, down}}

	var transitions []gobreaker.State
	s := NewBreakerSender(next, BreakerSettings{
		Name:          "test",
		MaxFailures:   2,
		Timeout:       time.Hour,
		OnStateChange: func(_ string, to gobreaker.State) { transitions = append(transitions, to) },
	}, zerolog.Nop())
	batch := s.CreateBatch("accounts")

	assert.ErrorIs(t, s.Send(context.Background(), batch), ErrUnavailable)
	assert.ErrorIs(t, s.Send(context.Background(), batch), ErrUnavailable)
	assert.Equal(t, gobreaker.StateOpen, s.State())

	err := s.Send(context.Background(), batch)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, next.calls, "open circuit must not reach the sender")
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)
}

func TestBreakerSender_PartialFailuresDoNotTrip(t *testing.T) {
	partial := &BatchError{Failures: map[int]error{0: errors.New("rejected")}}
	next := &scriptedSender{errs: []error{partial, partial, partial}}

	s := NewBreakerSender(next, BreakerSettings{MaxFailures: 1, Timeout: time.Hour}, zerolog.Nop())
	batch := s.CreateBatch("accounts")

	for i := 0; i < 3; i++ {
		var be *BatchError
		require.ErrorAs(t, s.Send(context.Background(), batch), &be)
	}
	assert.Equal(t, gobreaker.StateClosed, s.State())
	assert.Equal(t, 3, next.calls)
}
