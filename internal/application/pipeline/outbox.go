package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/eventrelay/internal/domain/event"
	"github.com/cassiomorais/eventrelay/internal/domain/outbox"
)

// Outbox binds a fresh integration event accumulator to the request, runs
// the business handler and, on success, writes every staged event to the
// outbox through the same unit of work. On failure staged events are
// discarded.
func Outbox[C, R any](writer outbox.Writer, defaultDestination string, clock func() time.Time) Decorator[C, R] {
	if clock == nil {
		clock = time.Now
	}

	return func(next Handler[C, R]) Handler[C, R] {
		return func(ctx context.Context, cmd C) (R, error) {
			if err := ctx.Err(); err != nil {
				var zero R
				return zero, err
			}

			acc := event.NewAccumulator()
			defer acc.Clear()

			res, err := next(event.WithAccumulator(ctx, acc), cmd)
			if err != nil || acc.Len() == 0 {
				return res, err
			}

			if err := persistStaged(ctx, writer, acc, defaultDestination, clock); err != nil {
				var zero R
				return zero, err
			}

			return res, nil
		}
	}
}

func persistStaged(
	ctx context.Context,
	writer outbox.Writer,
	acc *event.Accumulator,
	defaultDestination string,
	clock func() time.Time,
) error {
	staged := acc.EventsToSend()
	for _, dest := range acc.Destinations() {
		destination := dest
		if destination == "" {
			destination = defaultDestination
		}

		for _, e := range staged[dest] {
			occurred := e.OccurredAt()
			if occurred.IsZero() {
				occurred = clock()
			}

			msg, err := outbox.NewMessage(e.EventType(), destination, e, occurred)
			if err != nil {
				return fmt.Errorf("build outbox message: %w", err)
			}
			if err := writer.Add(ctx, msg); err != nil {
				return fmt.Errorf("add outbox message %s: %w", msg.EventType, err)
			}
		}
	}
	return nil
}
