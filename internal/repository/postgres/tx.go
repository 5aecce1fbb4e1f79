package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cassiomorais/eventrelay/internal/application/pipeline"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ctxKey is an unexported type for context keys in this package.
type ctxKey int

const txKey ctxKey = iota

// DBTX is the common query interface satisfied by *pgxpool.Pool, pgx.Tx and
// the unit of work.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ TxBeginner = (*pgxpool.Pool)(nil)

// TxManager runs short, self-contained transactions such as outbox claims.
type TxManager struct {
	db TxBeginner
}

func NewTxManager(db TxBeginner) *TxManager {
	return &TxManager{db: db}
}

// WithTransaction executes fn inside a database transaction.
// The transaction is committed if fn returns nil, rolled back otherwise.
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey, DBTX(tx))

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed (%v) after error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ConnFromCtx returns the transaction or unit of work bound to ctx if
// present, otherwise the pool.
func ConnFromCtx(ctx context.Context, pool DBTX) DBTX {
	if tx, ok := ctx.Value(txKey).(DBTX); ok {
		return tx
	}
	return pool
}

// UnitOfWorkFactory opens one pgx transaction per command.
type UnitOfWorkFactory struct {
	db TxBeginner
}

func NewUnitOfWorkFactory(db TxBeginner) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{db: db}
}

func (f *UnitOfWorkFactory) Begin(ctx context.Context) (context.Context, pipeline.UnitOfWork, error) {
	tx, err := f.db.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin tx: %w", err)
	}
	u := &unitOfWork{tx: tx}
	return context.WithValue(ctx, txKey, DBTX(u)), u, nil
}

var _ pipeline.UnitOfWorkFactory = (*UnitOfWorkFactory)(nil)

// unitOfWork wraps a pgx transaction and counts the rows written through it.
type unitOfWork struct {
	tx pgx.Tx

	mu       sync.Mutex
	writes   int
	affected int64
	done     bool
}

func (u *unitOfWork) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return u.tx.Query(ctx, sql, args...)
}

func (u *unitOfWork) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return u.tx.QueryRow(ctx, sql, args...)
}

func (u *unitOfWork) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := u.tx.Exec(ctx, sql, args...)
	if err == nil {
		u.track(tag.RowsAffected())
	}
	return tag, err
}

func (u *unitOfWork) track(rows int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.writes++
	u.affected += rows
}

func (u *unitOfWork) HasChanges() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.writes > 0
}

func (u *unitOfWork) SaveChanges(ctx context.Context) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return 0, pgx.ErrTxClosed
	}
	if err := u.tx.Commit(ctx); err != nil {
		u.done = true
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	u.done = true
	return int(u.affected), nil
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback tx: %w", err)
	}
	return nil
}

// trackWrite counts a write issued through QueryRow (INSERT ... RETURNING)
// against the unit of work bound to ctx, if any.
func trackWrite(ctx context.Context, rows int64) {
	if u, ok := ctx.Value(txKey).(*unitOfWork); ok {
		u.track(rows)
	}
}
