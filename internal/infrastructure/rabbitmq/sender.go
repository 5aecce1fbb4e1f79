// Package rabbitmq publishes outbox envelopes to a RabbitMQ exchange with
// publisher confirms.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cassiomorais/eventrelay/internal/broker"
	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNacked = errors.New("message nacked by broker")

// Confirmation is satisfied by *amqp.DeferredConfirmation.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// Publisher publishes one message and returns its pending confirmation.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (Confirmation, error)
	Close() error
}

type Options struct {
	Exchange       string
	ConfirmTimeout time.Duration
	MaxBatchBytes  int
	MaxMessages    int
}

// Sender implements broker.Sender. The routing key is the envelope destination.
type Sender struct {
	pub  Publisher
	opts Options

	mu     sync.Mutex
	closed bool
}

func NewSender(pub Publisher, opts Options) *Sender {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 5 * time.Second
	}
	return &Sender{pub: pub, opts: opts}
}

func (s *Sender) CreateBatch(destination string) broker.Batch {
	return broker.NewSizedBatch(destination, s.opts.MaxBatchBytes, s.opts.MaxMessages)
}

// Send publishes every envelope, then waits for all confirms.
func (s *Sender) Send(ctx context.Context, batch broker.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return broker.ErrSenderClosed
	}

	envelopes := batch.Envelopes()
	if len(envelopes) == 0 {
		return nil
	}

	failures := make(map[int]error)
	pending := make(map[int]Confirmation, len(envelopes))

	for i, e := range envelopes {
		conf, err := s.pub.Publish(ctx, s.opts.Exchange, batch.Destination(), publishing(e))
		if err != nil {
			failures[i] = classify(err)
			continue
		}
		pending[i] = conf
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ConfirmTimeout)
	defer cancel()

	for i, conf := range pending {
		acked, err := conf.WaitContext(waitCtx)
		switch {
		case err != nil:
			failures[i] = fmt.Errorf("%w: await confirm: %w", broker.ErrUnavailable, err)
		case !acked:
			failures[i] = ErrNacked
		}
	}

	switch len(failures) {
	case 0:
		return nil
	case len(envelopes):
		return fmt.Errorf("publish to %s: %w", batch.Destination(), failures[0])
	}
	return &broker.BatchError{Failures: failures}
}

func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.pub.Close()
}

func publishing(e broker.Envelope) amqp.Publishing {
	headers := amqp.Table{
		"source":      e.Source,
		"destination": e.Destination,
	}
	for _, k := range e.AttributeKeys() {
		headers[k] = e.Attributes[k]
	}

	contentType := e.DataContentType
	if contentType == "" {
		contentType = "application/json"
	}

	return amqp.Publishing{
		MessageId:    e.ID,
		Type:         e.Type,
		AppId:        e.Source,
		Timestamp:    e.Time,
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         e.Data,
	}
}

func classify(err error) error {
	var amqpErr *amqp.Error
	if errors.Is(err, amqp.ErrClosed) || (errors.As(err, &amqpErr) && amqpErr.Recover) {
		return fmt.Errorf("%w: %w", broker.ErrUnavailable, err)
	}
	return err
}
