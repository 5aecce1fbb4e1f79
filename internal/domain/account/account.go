package account

import (
	"time"

	"github.com/cassiomorais/eventrelay/internal/domain/errors"
	"github.com/cassiomorais/eventrelay/internal/domain/event"
	"github.com/google/uuid"
)

type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
	StatusClosed    AccountStatus = "closed"
)

type Account struct {
	event.Recorder

	ID        uuid.UUID
	OwnerID   string
	Balance   int64 // in cents
	Currency  string
	Version   int // Optimistic locking
	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func Open(ownerID string, initialBalance int64, currency string) (*Account, error) {
	if ownerID == "" {
		return nil, errors.NewValidationError("owner_id", "cannot be empty")
	}
	if initialBalance < 0 {
		return nil, errors.NewValidationError("initial_balance", "cannot be negative")
	}
	if len(currency) != 3 {
		return nil, errors.ErrInvalidCurrency
	}

	now := time.Now().UTC()
	a := &Account{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Balance:   initialBalance,
		Currency:  currency,
		Version:   0,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.Record(Opened{
		Base:           event.NewBase(),
		AccountID:      a.ID,
		OwnerID:        ownerID,
		InitialBalance: initialBalance,
		Currency:       currency,
	})
	return a, nil
}

func (a *Account) Withdraw(amount int64) error {
	if a.Status != StatusActive {
		return errors.ErrAccountInactive
	}
	if amount <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if a.Balance < amount {
		return errors.ErrInsufficientFunds
	}

	a.Balance -= amount
	a.touch()
	a.Record(Withdrawn{Base: event.NewBase(), AccountID: a.ID, Amount: amount, BalanceAfter: a.Balance})
	return nil
}

func (a *Account) Deposit(amount int64) error {
	if a.Status != StatusActive {
		return errors.ErrAccountInactive
	}
	if amount <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}

	a.Balance += amount
	a.touch()
	a.Record(Deposited{Base: event.NewBase(), AccountID: a.ID, Amount: amount, BalanceAfter: a.Balance})
	return nil
}

func (a *Account) Suspend(reason string) error {
	if a.Status == StatusClosed {
		return errors.ErrAccountInactive
	}
	if a.Status == StatusSuspended {
		return nil
	}
	a.Status = StatusSuspended
	a.touch()
	a.Record(Suspended{Base: event.NewBase(), AccountID: a.ID, OwnerID: a.OwnerID, Reason: reason})
	return nil
}

func (a *Account) touch() {
	a.Version++
	a.UpdatedAt = time.Now().UTC()
}
