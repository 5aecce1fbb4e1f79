package redis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/cassiomorais/eventrelay/internal/broker"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamValues(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	e := broker.Envelope{
		ID:              "outbox-7",
		Type:            "account.opened",
		Source:          "eventrelay",
		Time:            at,
		Destination:     "accounts",
		DataContentType: "application/json",
		Data:            json.RawMessage(`{"id":"a-1"}`),
		Attributes:      map[string]string{"attempt": "1"},
	}

	values, err := streamValues(e)
	require.NoError(t, err)

	assert.Equal(t, "outbox-7", values["id"])
	assert.Equal(t, "account.opened", values["type"])
	assert.Equal(t, "2026-05-01T10:00:00Z", values["time"])
	assert.Equal(t, `{"id":"a-1"}`, values["data"])
	assert.JSONEq(t, `{"attempt":"1"}`, values["attributes"].(string))
}

func TestStreamValues_NoAttributes(t *testing.T) {
	values, err := streamValues(broker.Envelope{ID: "outbox-1"})
	require.NoError(t, err)
	assert.NotContains(t, values, "attributes")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"closed client", redis.ErrClosed, true},
		{"eof", io.EOF, true},
		{"deadline", context.DeadlineExceeded, true},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"server error", errors.New("ERR wrong number of arguments"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			assert.Equal(t, tt.transient, errors.Is(err, broker.ErrUnavailable))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestStreamSender_ClosedAndEmpty(t *testing.T) {
	s := NewStreamSender(nil, WithStreamPrefix("test:"), WithBatchLimits(1024, 2))
	assert.Equal(t, "test:accounts", s.StreamKey("accounts"))

	batch := s.CreateBatch("accounts")
	assert.NoError(t, s.Send(context.Background(), batch))

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send(context.Background(), batch), broker.ErrSenderClosed)
}
