package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/eventrelay/internal/domain/outbox"
	"github.com/rs/zerolog"
)

const DefaultCleanerLockKey = "outbox:cleaner"

// Locker grants a cluster-wide lease. TryLock returns a nil release func
// when another holder owns key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

type CleanupMetrics interface {
	ObserveCleanup(deleted int64)
}

type CleanerConfig struct {
	// Retention is how long processed rows are kept.
	Retention time.Duration
	Interval  time.Duration
	// BatchSize bounds each DELETE statement.
	BatchSize int
	LockKey   string
}

// Cleaner deletes processed outbox rows older than the retention window.
// With a Locker only one instance cleans per interval.
type Cleaner struct {
	janitor outbox.Janitor
	locker  Locker
	cfg     CleanerConfig
	logger  zerolog.Logger
	metrics CleanupMetrics
	now     func() time.Time
}

type CleanerOption func(*Cleaner)

func WithCleanupMetrics(m CleanupMetrics) CleanerOption {
	return func(c *Cleaner) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithCleanerClock(now func() time.Time) CleanerOption {
	return func(c *Cleaner) { c.now = now }
}

func NewCleaner(janitor outbox.Janitor, locker Locker, cfg CleanerConfig, logger zerolog.Logger, opts ...CleanerOption) *Cleaner {
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultCleanerLockKey
	}

	c := &Cleaner{
		janitor: janitor,
		locker:  locker,
		cfg:     cfg,
		logger:  logger.With().Str("component", "outbox_cleaner").Logger(),
		metrics: nopMetrics{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run cleans once immediately and then every interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("outbox cleanup failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce deletes expired rows in BatchSize chunks and returns the total.
// It returns 0 without error when another instance holds the lease.
func (c *Cleaner) RunOnce(ctx context.Context) (int64, error) {
	if c.locker != nil {
		release, err := c.locker.TryLock(ctx, c.cfg.LockKey, c.cfg.Interval)
		if err != nil {
			return 0, fmt.Errorf("acquire cleaner lock: %w", err)
		}
		if release == nil {
			c.logger.Debug().Msg("cleanup running elsewhere, skipping")
			return 0, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn().Err(err).Msg("failed to release cleaner lock")
			}
		}()
	}

	cutoff := c.now().Add(-c.cfg.Retention)
	var total int64
	for ctx.Err() == nil {
		n, err := c.janitor.DeleteProcessedBefore(ctx, cutoff, c.cfg.BatchSize)
		total += n
		if err != nil {
			c.metrics.ObserveCleanup(total)
			return total, err
		}
		if n < int64(c.cfg.BatchSize) {
			break
		}
	}

	c.metrics.ObserveCleanup(total)
	if total > 0 {
		c.logger.Info().Int64("deleted", total).Time("cutoff", cutoff).Msg("outbox rows cleaned")
	}
	return total, nil
}
