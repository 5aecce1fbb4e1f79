package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cassiomorais/eventrelay/internal/domain/account"
	domainErrors "github.com/cassiomorais/eventrelay/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// scanner is implemented by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const accountColumns = `id, owner_id, balance, currency, version, status, created_at, updated_at`

// AccountRepository implements account.Repository using PostgreSQL.
type AccountRepository struct {
	pool DBTX
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool DBTX) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *AccountRepository) scanAccount(s scanner) (*account.Account, error) {
	a := &account.Account{}
	var status string
	err := s.Scan(&a.ID, &a.OwnerID, &a.Balance, &a.Currency, &a.Version, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.Status = account.AccountStatus(status)
	return a, nil
}

// Add inserts a new account. Balances are stored as integer cents.
func (r *AccountRepository) Add(ctx context.Context, a *account.Account) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.OwnerID, a.Balance, a.Currency, a.Version, string(a.Status), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by its ID.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return r.scanAccount(r.db(ctx).QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// Update updates an account with optimistic locking. a.Version must already
// be incremented past the stored version.
func (r *AccountRepository) Update(ctx context.Context, a *account.Account) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE accounts SET balance = $1, currency = $2, version = $3, status = $4, updated_at = $5
		 WHERE id = $6 AND version = $7`,
		a.Balance, a.Currency, a.Version, string(a.Status), a.UpdatedAt, a.ID, a.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrOptimisticLockFailed
	}
	return nil
}

var _ account.Repository = (*AccountRepository)(nil)
