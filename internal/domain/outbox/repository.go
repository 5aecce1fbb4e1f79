package outbox

import (
	"context"
	"time"
)

// Writer appends messages. Implementations join the unit of work carried by
// ctx so that the insert commits together with the business change.
type Writer interface {
	Add(ctx context.Context, msg *Message) error
}

// Store is the durable outbox table and owns claiming and status transitions.
type Store interface {
	Writer

	// FetchForProcessing claims up to batchSize claimable messages in
	// ascending ID order, locking each until now+lockDuration. Rows locked by
	// a concurrent claimant are skipped. An empty result is not an error.
	FetchForProcessing(ctx context.Context, batchSize int, lockDuration time.Duration) ([]*Message, error)

	// MarkCompleted records successful delivery. Repeating it is a no-op.
	MarkCompleted(ctx context.Context, id int64) error

	// MarkErrored records a permanent failure; the message becomes terminal.
	MarkErrored(ctx context.Context, id int64, errMsg string) error

	// MarkForRetry counts the attempt and leaves the message pending; it is
	// claimable again once its lock expires.
	MarkForRetry(ctx context.Context, id int64) error
}

// Janitor removes delivered history.
type Janitor interface {
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// StatsReader reports outbox backlog figures.
type StatsReader interface {
	Stats(ctx context.Context) (Stats, error)
}
