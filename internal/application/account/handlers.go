package account

import (
	"context"
	"time"

	"github.com/cassiomorais/eventrelay/internal/application/cache"
	"github.com/cassiomorais/eventrelay/internal/application/dispatch"
	"github.com/cassiomorais/eventrelay/internal/domain/account"
	"github.com/cassiomorais/eventrelay/internal/domain/event"
	"github.com/google/uuid"
)

// CacheKey is the read cache key of one account.
func CacheKey(id uuid.UUID) string {
	return "account:" + id.String()
}

// NewInvalidationPolicy lists the account events that make a cached view stale.
func NewInvalidationPolicy() *cache.InvalidationPolicy {
	p := cache.NewInvalidationPolicy()
	cache.Invalidate(p, func(e account.Deposited) []string { return []string{CacheKey(e.AccountID)} })
	cache.Invalidate(p, func(e account.Withdrawn) []string { return []string{CacheKey(e.AccountID)} })
	cache.Invalidate(p, func(e account.Suspended) []string { return []string{CacheKey(e.AccountID)} })
	return p
}

// RegisterHandlers wires the account domain event handlers. They translate
// domain events into integration events staged for the outbox and, when inv
// is non-nil, drop stale cache entries.
func RegisterHandlers(d *dispatch.Dispatcher, inv *cache.Invalidator) error {
	if err := dispatch.Register(d, handle(onOpened)); err != nil {
		return err
	}
	if err := dispatch.Register(d, handle(onDeposited)); err != nil {
		return err
	}
	if err := dispatch.Register(d, handle(onWithdrawn)); err != nil {
		return err
	}
	if err := dispatch.Register(d, handle(onSuspended)); err != nil {
		return err
	}

	if inv == nil {
		return nil
	}
	if err := dispatch.Register(d, handle(invalidate[account.Deposited](inv))); err != nil {
		return err
	}
	if err := dispatch.Register(d, handle(invalidate[account.Withdrawn](inv))); err != nil {
		return err
	}
	return dispatch.Register(d, handle(invalidate[account.Suspended](inv)))
}

func handle[E event.DomainEvent](fn func(context.Context, E) error) func() dispatch.Handler[E] {
	return func() dispatch.Handler[E] { return dispatch.HandlerFunc[E](fn) }
}

func invalidate[E event.DomainEvent](inv *cache.Invalidator) func(context.Context, E) error {
	return func(ctx context.Context, e E) error { return inv.Invalidate(ctx, e) }
}

// newBase keeps the integration event timestamp equal to the domain fact's.
func newBase(occurred time.Time) event.Base {
	b := event.NewBase()
	b.Occurred = occurred
	return b
}

func onOpened(ctx context.Context, e account.Opened) error {
	return event.Stage(ctx, DestinationAccounts, AccountOpened{
		Base:           newBase(e.OccurredAt()),
		AccountID:      e.AccountID,
		OwnerID:        e.OwnerID,
		InitialBalance: e.InitialBalance,
		Currency:       e.Currency,
	})
}

func onDeposited(ctx context.Context, e account.Deposited) error {
	if err := event.Stage(ctx, DestinationAccounts, FundsDeposited{
		Base:         newBase(e.OccurredAt()),
		AccountID:    e.AccountID,
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
	}); err != nil {
		return err
	}
	return event.Stage(ctx, DestinationLedger, LedgerEntryRecorded{
		Base:      newBase(e.OccurredAt()),
		AccountID: e.AccountID,
		Amount:    e.Amount,
	})
}

func onWithdrawn(ctx context.Context, e account.Withdrawn) error {
	if err := event.Stage(ctx, DestinationAccounts, FundsWithdrawn{
		Base:         newBase(e.OccurredAt()),
		AccountID:    e.AccountID,
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
	}); err != nil {
		return err
	}
	return event.Stage(ctx, DestinationLedger, LedgerEntryRecorded{
		Base:      newBase(e.OccurredAt()),
		AccountID: e.AccountID,
		Amount:    -e.Amount,
	})
}

func onSuspended(ctx context.Context, e account.Suspended) error {
	if err := event.Stage(ctx, DestinationAccounts, AccountSuspended{
		Base:      newBase(e.OccurredAt()),
		AccountID: e.AccountID,
		Reason:    e.Reason,
	}); err != nil {
		return err
	}
	return event.Stage(ctx, DestinationNotifications, OwnerNotificationRequested{
		Base:     newBase(e.OccurredAt()),
		OwnerID:  e.OwnerID,
		Template: "account_suspended",
		Subject:  "Your account has been suspended",
	})
}
