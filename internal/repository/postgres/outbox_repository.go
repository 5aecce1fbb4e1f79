package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/eventrelay/internal/domain/outbox"
	"github.com/cassiomorais/eventrelay/pkg/retry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const outboxColumns = `id, event_type, payload, destination, occurred_on_utc,
	processed_at_utc, processing_attempts, error, locked_until_utc`

// OutboxRepository implements outbox.Store, outbox.Janitor and
// outbox.StatsReader on the outbox_messages table.
type OutboxRepository struct {
	pool  DBTX
	txm   *TxManager
	retry retry.Config
	now   func() time.Time
}

type OutboxOption func(*OutboxRepository)

// WithClaimRetry overrides the retry strategy wrapped around each claim.
func WithClaimRetry(cfg retry.Config) OutboxOption {
	return func(r *OutboxRepository) { r.retry = cfg }
}

// WithClock overrides the time source used for lock and processed stamps.
func WithClock(now func() time.Time) OutboxOption {
	return func(r *OutboxRepository) { r.now = now }
}

func NewOutboxRepository(pool interface {
	DBTX
	TxBeginner
}, opts ...OutboxOption) *OutboxRepository {
	r := &OutboxRepository{
		pool: pool,
		txm:  NewTxManager(pool),
		retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
			RetryIf:      isTransientPgError,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *OutboxRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Add inserts msg through the unit of work carried by ctx and sets msg.ID.
func (r *OutboxRepository) Add(ctx context.Context, msg *outbox.Message) error {
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO outbox_messages (event_type, payload, destination, occurred_on_utc)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		msg.EventType, msg.Payload, msg.Destination, msg.OccurredOnUTC,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	trackWrite(ctx, 1)
	return nil
}

// FetchForProcessing claims a batch in its own transaction. A failed claim
// rolls back completely and is re-attempted with backoff.
func (r *OutboxRepository) FetchForProcessing(ctx context.Context, batchSize int, lockDuration time.Duration) ([]*outbox.Message, error) {
	if batchSize <= 0 || lockDuration <= 0 {
		return nil, outbox.ErrInvalidClaim
	}

	return retry.DoWithResult(ctx, r.retry, func() ([]*outbox.Message, error) {
		var claimed []*outbox.Message
		err := r.txm.WithTransaction(ctx, func(txCtx context.Context) error {
			var err error
			claimed, err = r.claim(txCtx, batchSize, lockDuration)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("claim outbox messages: %w", err)
		}
		return claimed, nil
	})
}

func (r *OutboxRepository) claim(ctx context.Context, batchSize int, lockDuration time.Duration) ([]*outbox.Message, error) {
	now := r.now()
	db := r.db(ctx)

	rows, err := db.Query(ctx,
		`SELECT `+outboxColumns+`
		 FROM outbox_messages
		 WHERE processed_at_utc IS NULL
		   AND (locked_until_utc IS NULL OR locked_until_utc <= $1)
		 ORDER BY id ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`, now, batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("select claimable: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*outbox.Message, error) {
		return scanMessage(row)
	})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	lockedUntil := now.Add(lockDuration)

	if _, err := db.Exec(ctx,
		`UPDATE outbox_messages SET locked_until_utc = $1 WHERE id = ANY($2)`,
		lockedUntil, ids,
	); err != nil {
		return nil, fmt.Errorf("lock claimed: %w", err)
	}

	for _, m := range msgs {
		lu := lockedUntil
		m.LockedUntilUTC = &lu
	}
	return msgs, nil
}

func (r *OutboxRepository) MarkCompleted(ctx context.Context, id int64) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox_messages
		 SET processed_at_utc = $1, processing_attempts = processing_attempts + 1
		 WHERE id = $2 AND processed_at_utc IS NULL`, r.now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox message %d completed: %w", id, err)
	}
	return nil
}

func (r *OutboxRepository) MarkErrored(ctx context.Context, id int64, errMsg string) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox_messages
		 SET processed_at_utc = $1, error = $2, processing_attempts = processing_attempts + 1
		 WHERE id = $3 AND processed_at_utc IS NULL`, r.now(), errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox message %d errored: %w", id, err)
	}
	return nil
}

func (r *OutboxRepository) MarkForRetry(ctx context.Context, id int64) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox_messages
		 SET processing_attempts = processing_attempts + 1
		 WHERE id = $1 AND processed_at_utc IS NULL`, id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox message %d for retry: %w", id, err)
	}
	return nil
}

func (r *OutboxRepository) Get(ctx context.Context, id int64) (*outbox.Message, error) {
	m, err := scanMessage(r.db(ctx).QueryRow(ctx,
		`SELECT `+outboxColumns+` FROM outbox_messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, outbox.ErrMessageNotFound
	}
	return m, err
}

// DeleteProcessedBefore removes up to limit processed rows older than cutoff.
func (r *OutboxRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	tag, err := r.db(ctx).Exec(ctx,
		`DELETE FROM outbox_messages
		 WHERE id IN (
		   SELECT id FROM outbox_messages
		   WHERE processed_at_utc IS NOT NULL AND processed_at_utc < $1
		   ORDER BY id
		   LIMIT $2
		 )`, cutoff, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("delete processed outbox messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *OutboxRepository) Stats(ctx context.Context) (outbox.Stats, error) {
	var s outbox.Stats
	err := r.db(ctx).QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE processed_at_utc IS NULL AND (locked_until_utc IS NULL OR locked_until_utc <= $1)),
		   COUNT(*) FILTER (WHERE processed_at_utc IS NULL AND locked_until_utc > $1),
		   COUNT(*) FILTER (WHERE processed_at_utc IS NOT NULL AND error IS NULL),
		   COUNT(*) FILTER (WHERE processed_at_utc IS NOT NULL AND error IS NOT NULL)
		 FROM outbox_messages`, r.now(),
	).Scan(&s.Pending, &s.Locked, &s.Completed, &s.Errored)
	if err != nil {
		return outbox.Stats{}, fmt.Errorf("outbox stats: %w", err)
	}
	return s, nil
}

func scanMessage(s scanner) (*outbox.Message, error) {
	m := &outbox.Message{}
	err := s.Scan(
		&m.ID, &m.EventType, &m.Payload, &m.Destination, &m.OccurredOnUTC,
		&m.ProcessedAtUTC, &m.ProcessingAttempts, &m.Error, &m.LockedUntilUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan outbox message: %w", err)
	}
	m.OccurredOnUTC = m.OccurredOnUTC.UTC()
	return m, nil
}

// isTransientPgError reports whether a claim failure is worth retrying:
// serialization failures, deadlocks and lost connections.
func isTransientPgError(err error) bool {
	if errors.Is(err, outbox.ErrInvalidClaim) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57P01":
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}
	return true
}

var (
	_ outbox.Store       = (*OutboxRepository)(nil)
	_ outbox.Janitor     = (*OutboxRepository)(nil)
	_ outbox.StatsReader = (*OutboxRepository)(nil)
)
