// Package worker runs the background loops of the worker process: the
// outbox dispatcher that relays committed integration events to the broker
// and the cleaner that enforces outbox retention.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/cassiomorais/eventrelay/internal/broker"
	"github.com/cassiomorais/eventrelay/internal/domain/outbox"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cassiomorais/eventrelay/internal/worker"

// ErrMaxAttemptsExceeded is recorded on messages that were dead-lettered.
var ErrMaxAttemptsExceeded = errors.New("max processing attempts exceeded")

// Message statuses reported to Metrics.
const (
	StatusCompleted    = "completed"
	StatusErrored      = "errored"
	StatusRetried      = "retried"
	StatusDeadLettered = "dead_lettered"
)

// Dead-letter envelope attributes.
const (
	AttrOriginalDestination = "original_destination"
	AttrDeadLetterReason    = "dead_letter_reason"
	AttrProcessingAttempts  = "processing_attempts"
)

// Metrics receives dispatcher observations.
type Metrics interface {
	ObserveCycle(claimed int, d time.Duration)
	ObserveMessage(destination, status string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveCycle(int, time.Duration) {}
func (nopMetrics) ObserveMessage(string, string)   {}
func (nopMetrics) ObserveCleanup(int64)            {}

type DispatcherConfig struct {
	BatchSize             int
	LockDuration          time.Duration
	MaxProcessingAttempts int
	// IdleDelay is the pause after a cycle that claimed nothing or failed.
	IdleDelay time.Duration
	// Source is stamped on every envelope as its origin.
	Source string
	// DeadLetterDestination receives messages that ran out of attempts.
	// Empty disables dead-letter publishing; such messages are still errored.
	DeadLetterDestination string
}

// CycleResult summarizes one claim-send-mark cycle.
type CycleResult struct {
	Claimed      int
	Completed    int
	Errored      int
	Retried      int
	DeadLettered int
}

// OutboxDispatcher polls the outbox, sends claimed messages to the broker in
// size-bounded batches per destination and records each outcome.
type OutboxDispatcher struct {
	store   outbox.Store
	sender  broker.Sender
	cfg     DispatcherConfig
	logger  zerolog.Logger
	metrics Metrics
	tracer  trace.Tracer
}

type DispatcherOption func(*OutboxDispatcher)

func WithMetrics(m Metrics) DispatcherOption {
	return func(d *OutboxDispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

func WithTracer(t trace.Tracer) DispatcherOption {
	return func(d *OutboxDispatcher) { d.tracer = t }
}

func NewOutboxDispatcher(
	store outbox.Store,
	sender broker.Sender,
	cfg DispatcherConfig,
	logger zerolog.Logger,
	opts ...DispatcherOption,
) *OutboxDispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = time.Minute
	}
	if cfg.MaxProcessingAttempts <= 0 {
		cfg.MaxProcessingAttempts = 3
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = time.Second
	}

	d := &OutboxDispatcher{
		store:   store,
		sender:  sender,
		cfg:     cfg,
		logger:  logger.With().Str("component", "outbox_dispatcher").Logger(),
		metrics: nopMetrics{},
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run loops until ctx is cancelled. A failing or panicking cycle is logged
// and the loop carries on after the idle delay.
func (d *OutboxDispatcher) Run(ctx context.Context) error {
	d.logger.Info().
		Int("batch_size", d.cfg.BatchSize).
		Dur("lock_duration", d.cfg.LockDuration).
		Int("max_attempts", d.cfg.MaxProcessingAttempts).
		Msg("outbox dispatcher started")

	for {
		if ctx.Err() != nil {
			d.logger.Info().Msg("outbox dispatcher stopped")
			return nil
		}

		res, err := d.runSafely(ctx)
		if err != nil && ctx.Err() == nil {
			d.logger.Error().Err(err).Msg("outbox cycle failed")
		}
		if err != nil || res.Claimed == 0 {
			if !sleep(ctx, d.cfg.IdleDelay) {
				d.logger.Info().Msg("outbox dispatcher stopped")
				return nil
			}
		}
	}
}

func (d *OutboxDispatcher) runSafely(ctx context.Context) (res CycleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("outbox cycle panicked: %v", r)
			d.logger.Error().Str("stack", string(debug.Stack())).Msg("recovered from panic")
		}
	}()
	return d.RunOnce(ctx)
}

// RunOnce claims one batch and settles every claimed message. Once messages
// are claimed the cycle completes even if ctx is cancelled, so no claim is
// left half-processed until its lock expires.
func (d *OutboxDispatcher) RunOnce(ctx context.Context) (CycleResult, error) {
	ctx, span := d.tracer.Start(ctx, "outbox.dispatch")
	defer span.End()

	start := time.Now()
	msgs, err := d.store.FetchForProcessing(ctx, d.cfg.BatchSize, d.cfg.LockDuration)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return CycleResult{}, fmt.Errorf("fetch outbox messages: %w", err)
	}

	res := CycleResult{Claimed: len(msgs)}
	defer func() { d.metrics.ObserveCycle(res.Claimed, time.Since(start)) }()
	span.SetAttributes(attribute.Int("outbox.claimed", len(msgs)))
	if len(msgs) == 0 {
		return res, nil
	}

	ctx = context.WithoutCancel(ctx)

	deliverable := make([]*outbox.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ProcessingAttempts >= d.cfg.MaxProcessingAttempts {
			d.deadLetter(ctx, m, m.ProcessingAttempts, nil, &res)
			continue
		}
		deliverable = append(deliverable, m)
	}

	for _, g := range groupByDestination(deliverable) {
		d.deliver(ctx, g.destination, g.messages, &res)
	}

	d.logger.Debug().
		Int("claimed", res.Claimed).
		Int("completed", res.Completed).
		Int("retried", res.Retried).
		Int("errored", res.Errored).
		Int("dead_lettered", res.DeadLettered).
		Msg("outbox cycle finished")

	return res, nil
}

type destinationGroup struct {
	destination string
	messages    []*outbox.Message
}

// groupByDestination keeps destinations in first-seen order and messages in
// claim order within each group.
func groupByDestination(msgs []*outbox.Message) []destinationGroup {
	var groups []destinationGroup
	index := make(map[string]int)
	for _, m := range msgs {
		i, ok := index[m.Destination]
		if !ok {
			i = len(groups)
			index[m.Destination] = i
			groups = append(groups, destinationGroup{destination: m.Destination})
		}
		groups[i].messages = append(groups[i].messages, m)
	}
	return groups
}

func (d *OutboxDispatcher) deliver(ctx context.Context, destination string, msgs []*outbox.Message, res *CycleResult) {
	batch := d.sender.CreateBatch(destination)
	var pending []*outbox.Message

	flush := func() {
		if batch.Len() == 0 {
			return
		}
		errs := broker.PerMessage(batch.Len(), d.send(ctx, batch))
		for i, m := range pending {
			d.settle(ctx, m, errs[i], res)
		}
		batch = d.sender.CreateBatch(destination)
		pending = nil
	}

	for _, m := range msgs {
		env, err := d.envelope(m)
		if err != nil {
			d.fail(ctx, m, err, res)
			continue
		}
		if batch.TryAdd(env) {
			pending = append(pending, m)
			continue
		}

		flush()
		if batch.TryAdd(env) {
			pending = append(pending, m)
			continue
		}
		d.fail(ctx, m, fmt.Errorf("%w: %d bytes", broker.ErrMessageTooLarge, env.Size()), res)
	}
	flush()
}

func (d *OutboxDispatcher) send(ctx context.Context, batch broker.Batch) error {
	ctx, span := d.tracer.Start(ctx, "outbox.send", trace.WithAttributes(
		attribute.String("messaging.destination.name", batch.Destination()),
		attribute.Int("messaging.batch.message_count", batch.Len()),
	))
	defer span.End()

	err := d.sender.Send(ctx, batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
	}
	return err
}

func (d *OutboxDispatcher) envelope(m *outbox.Message) (broker.Envelope, error) {
	if !json.Valid(m.Payload) {
		return broker.Envelope{}, fmt.Errorf("outbox message %d: payload is not valid JSON", m.ID)
	}
	return broker.Envelope{
		ID:              EnvelopeID(m.ID),
		Type:            m.EventType,
		Source:          d.cfg.Source,
		Time:            m.OccurredOnUTC,
		Destination:     m.Destination,
		DataContentType: "application/json",
		Data:            json.RawMessage(m.Payload),
	}, nil
}

// EnvelopeID is the stable broker message id of outbox row id. Redeliveries
// of the same row carry the same id.
func EnvelopeID(id int64) string {
	return "outbox-" + strconv.FormatInt(id, 10)
}

func (d *OutboxDispatcher) settle(ctx context.Context, m *outbox.Message, sendErr error, res *CycleResult) {
	if sendErr == nil {
		if err := d.store.MarkCompleted(ctx, m.ID); err != nil {
			d.logMarkFailure(m, err)
		}
		res.Completed++
		d.metrics.ObserveMessage(m.Destination, StatusCompleted)
		return
	}

	if isTransient(sendErr) && m.ProcessingAttempts+1 < d.cfg.MaxProcessingAttempts {
		if err := d.store.MarkForRetry(ctx, m.ID); err != nil {
			d.logMarkFailure(m, err)
		}
		res.Retried++
		d.metrics.ObserveMessage(m.Destination, StatusRetried)
		d.logger.Warn().Err(sendErr).
			Int64("outbox_id", m.ID).
			Str("destination", m.Destination).
			Int("attempt", m.ProcessingAttempts+1).
			Msg("outbox message send failed, will retry")
		return
	}

	if isTransient(sendErr) {
		d.deadLetter(ctx, m, m.ProcessingAttempts+1, sendErr, res)
		return
	}
	d.fail(ctx, m, sendErr, res)
}

func (d *OutboxDispatcher) fail(ctx context.Context, m *outbox.Message, cause error, res *CycleResult) {
	if err := d.store.MarkErrored(ctx, m.ID, cause.Error()); err != nil {
		d.logMarkFailure(m, err)
	}
	res.Errored++
	d.metrics.ObserveMessage(m.Destination, StatusErrored)
	d.logger.Error().Err(cause).
		Int64("outbox_id", m.ID).
		Str("destination", m.Destination).
		Str("event_type", m.EventType).
		Msg("outbox message failed permanently")
}

// deadLetter publishes m to the dead-letter destination on a best-effort
// basis and marks it errored either way. attempts is the number of delivery
// attempts spent on m; cause is the last send failure, if any.
func (d *OutboxDispatcher) deadLetter(ctx context.Context, m *outbox.Message, attempts int, cause error, res *CycleResult) {
	log := d.logger.With().
		Int64("outbox_id", m.ID).
		Str("destination", m.Destination).
		Int("attempts", attempts).
		Logger()

	if d.cfg.DeadLetterDestination != "" {
		if err := d.publishDeadLetter(ctx, m, attempts); err != nil {
			log.Error().Err(err).Msg("dead-letter publish failed")
		}
	}

	reason := ErrMaxAttemptsExceeded.Error()
	if cause != nil {
		reason += ": " + cause.Error()
	}
	if err := d.store.MarkErrored(ctx, m.ID, reason); err != nil {
		d.logMarkFailure(m, err)
	}
	res.DeadLettered++
	d.metrics.ObserveMessage(m.Destination, StatusDeadLettered)
	log.Warn().Msg("outbox message dead-lettered")
}

func (d *OutboxDispatcher) publishDeadLetter(ctx context.Context, m *outbox.Message, attempts int) error {
	env, err := d.envelope(m)
	if err != nil {
		return err
	}
	env.Destination = d.cfg.DeadLetterDestination
	env.Attributes = map[string]string{
		AttrOriginalDestination: m.Destination,
		AttrDeadLetterReason:    ErrMaxAttemptsExceeded.Error(),
		AttrProcessingAttempts:  strconv.Itoa(attempts),
	}

	batch := d.sender.CreateBatch(d.cfg.DeadLetterDestination)
	if !batch.TryAdd(env) {
		return broker.ErrMessageTooLarge
	}
	if err := broker.PerMessage(1, d.send(ctx, batch))[0]; err != nil {
		return err
	}
	return nil
}

func (d *OutboxDispatcher) logMarkFailure(m *outbox.Message, err error) {
	d.logger.Error().Err(err).
		Int64("outbox_id", m.ID).
		Msg("failed to record outbox message status, lock expiry will release it")
}

// isTransient reports whether a send failure may succeed on a later attempt.
func isTransient(err error) bool {
	return errors.Is(err, broker.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// sleep waits for d or until ctx is done, reporting whether it slept fully.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
