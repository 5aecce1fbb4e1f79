package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/cassiomorais/eventrelay/internal/broker"
	"github.com/redis/go-redis/v9"
)

const DefaultStreamPrefix = "events:"

// StreamSender publishes envelopes to Redis Streams, one stream per
// destination. Each batch is written with a single pipelined round trip.
type StreamSender struct {
	client      redis.UniversalClient
	prefix      string
	maxLen      int64
	maxBytes    int
	maxMessages int
	closed      atomic.Bool
}

type StreamOption func(*StreamSender)

func WithStreamPrefix(prefix string) StreamOption {
	return func(s *StreamSender) { s.prefix = prefix }
}

// WithMaxLen caps each stream approximately at n entries.
func WithMaxLen(n int64) StreamOption {
	return func(s *StreamSender) { s.maxLen = n }
}

func WithBatchLimits(maxBytes, maxMessages int) StreamOption {
	return func(s *StreamSender) {
		s.maxBytes = maxBytes
		s.maxMessages = maxMessages
	}
}

func NewStreamSender(client redis.UniversalClient, opts ...StreamOption) *StreamSender {
	s := &StreamSender{
		client:      client,
		prefix:      DefaultStreamPrefix,
		maxBytes:    256 * 1024,
		maxMessages: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StreamKey returns the stream a destination is published to.
func (s *StreamSender) StreamKey(destination string) string {
	return s.prefix + destination
}

func (s *StreamSender) CreateBatch(destination string) broker.Batch {
	return broker.NewSizedBatch(destination, s.maxBytes, s.maxMessages)
}

func (s *StreamSender) Send(ctx context.Context, batch broker.Batch) error {
	if s.closed.Load() {
		return broker.ErrSenderClosed
	}
	envelopes := batch.Envelopes()
	if len(envelopes) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(envelopes))
	for i, e := range envelopes {
		values, err := streamValues(e)
		if err != nil {
			return fmt.Errorf("encode envelope %s: %w", e.ID, err)
		}
		cmds[i] = pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.StreamKey(batch.Destination()),
			MaxLen: s.maxLen,
			Approx: s.maxLen > 0,
			Values: values,
		})
	}

	_, execErr := pipe.Exec(ctx)
	if execErr == nil {
		return nil
	}

	failures := make(map[int]error)
	for i, cmd := range cmds {
		if err := cmd.Err(); err != nil {
			failures[i] = classify(err)
		}
	}
	if len(failures) == 0 || len(failures) == len(cmds) {
		return fmt.Errorf("xadd %s: %w", s.StreamKey(batch.Destination()), classify(execErr))
	}
	return &broker.BatchError{Failures: failures}
}

// Close stops accepting sends. The client is owned by the caller.
func (s *StreamSender) Close() error {
	s.closed.Store(true)
	return nil
}

func streamValues(e broker.Envelope) (map[string]any, error) {
	values := map[string]any{
		"id":              e.ID,
		"type":            e.Type,
		"source":          e.Source,
		"time":            e.Time.UTC().Format(time.RFC3339Nano),
		"destination":     e.Destination,
		"datacontenttype": e.DataContentType,
		"data":            string(e.Data),
	}
	if len(e.Attributes) > 0 {
		attrs, err := json.Marshal(e.Attributes)
		if err != nil {
			return nil, err
		}
		values["attributes"] = string(attrs)
	}
	return values, nil
}

// classify marks connection-level failures as broker.ErrUnavailable.
func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, redis.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %w", broker.ErrUnavailable, err)
	}
	return err
}
