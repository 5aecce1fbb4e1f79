package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// UnitOfWork tracks the writes made during one command.
type UnitOfWork interface {
	HasChanges() bool
	// SaveChanges commits the pending writes and returns how many rows they touched.
	SaveChanges(ctx context.Context) (int, error)
	// Rollback discards pending writes. It is a no-op after SaveChanges.
	Rollback(ctx context.Context) error
}

// UnitOfWorkFactory opens a unit of work and returns a context that carries
// it, so repositories called with that context write through it.
type UnitOfWorkFactory interface {
	Begin(ctx context.Context) (context.Context, UnitOfWork, error)
}

// Transaction commits the unit of work only when the inner chain succeeds
// and left pending changes. Validation failures, not-found and errors are
// all rolled back. A failed rollback is logged and does not replace the
// command's result.
func Transaction[C, R any](factory UnitOfWorkFactory, logger zerolog.Logger) Decorator[C, R] {
	return func(next Handler[C, R]) Handler[C, R] {
		return func(ctx context.Context, cmd C) (res R, err error) {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			txCtx, uow, err := factory.Begin(ctx)
			if err != nil {
				return res, fmt.Errorf("begin unit of work: %w", err)
			}

			committed := false
			defer func() {
				if committed {
					return
				}
				// Rollback must run even if ctx was cancelled mid-command.
				if rbErr := uow.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
					logger.Error().Err(rbErr).AnErr("cause", err).Msg("unit of work rollback failed")
				}
			}()

			res, err = next(txCtx, cmd)
			if Classify(err) != OutcomeSuccess || !uow.HasChanges() {
				return res, err
			}

			if _, err := uow.SaveChanges(ctx); err != nil {
				var zero R
				return zero, fmt.Errorf("save changes: %w", err)
			}
			committed = true

			return res, nil
		}
	}
}
