package account_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	accountApp "github.com/cassiomorais/eventrelay/internal/application/account"
	"github.com/cassiomorais/eventrelay/internal/application/cache"
	"github.com/cassiomorais/eventrelay/internal/application/dispatch"
	"github.com/cassiomorais/eventrelay/internal/application/pipeline"
	"github.com/cassiomorais/eventrelay/internal/domain/account"
	domainErrors "github.com/cassiomorais/eventrelay/internal/domain/errors"
	"github.com/cassiomorais/eventrelay/internal/domain/outbox"
	"github.com/cassiomorais/eventrelay/internal/testutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo    *testutil.MockAccountRepository
	outbox  *testutil.MemoryOutboxStore
	uow     *testutil.MemoryUnitOfWorkFactory
	cache   *testutil.MemoryCache
	service *accountApp.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   testutil.NewMockAccountRepository(),
		outbox: testutil.NewMemoryOutboxStore(),
		uow:    testutil.NewMemoryUnitOfWorkFactory(),
		cache:  testutil.NewMemoryCache(),
	}

	logger := zerolog.Nop()
	d := dispatch.NewDispatcher(logger)
	inv := cache.NewInvalidator(f.cache, accountApp.NewInvalidationPolicy(), logger)
	require.NoError(t, accountApp.RegisterHandlers(d, inv))

	f.service = accountApp.NewService(accountApp.Deps{
		Repo:       f.repo,
		Dispatcher: d,
		Cache:      f.cache,
		Logger:     logger,
		Pipeline: pipeline.Deps{
			Logger:             logger,
			Validators:         pipeline.NewValidatorRegistry(),
			UnitOfWork:         f.uow,
			Outbox:             f.outbox,
			DefaultDestination: "integration-events",
		},
	})
	return f
}

func (f *fixture) seedAccount(balance int64) *account.Account {
	a := testutil.NewTestAccount("owner-1", balance, "USD")
	f.repo.Seed(a)
	return a
}

func rowsFor(store *testutil.MemoryOutboxStore) map[string][]outbox.Message {
	out := make(map[string][]outbox.Message)
	for _, m := range store.All() {
		out[m.Destination] = append(out[m.Destination], m)
	}
	return out
}

func TestOpenAccount(t *testing.T) {
	f := newFixture(t)

	view, err := f.service.OpenAccount(context.Background(), accountApp.OpenAccount{
		OwnerID:        "owner-1",
		InitialBalance: 10000,
		Currency:       "USD",
	})
	require.NoError(t, err)

	assert.Equal(t, "owner-1", view.OwnerID)
	assert.Equal(t, int64(10000), view.Balance)
	assert.Equal(t, "active", view.Status)

	stored, ok := f.repo.Stored(view.ID)
	require.True(t, ok, "account committed")
	assert.Empty(t, stored.DomainEvents())

	rows := f.outbox.All()
	require.Len(t, rows, 1)
	assert.Equal(t, "account.opened", rows[0].EventType)
	assert.Equal(t, accountApp.DestinationAccounts, rows[0].Destination)
	assert.Nil(t, rows[0].ProcessedAtUTC)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rows[0].Payload, &payload))
	assert.Equal(t, view.ID.String(), payload["account_id"])
	assert.Equal(t, "USD", payload["currency"])

	assert.Equal(t, 1, f.uow.Commits())
}

func TestOpenAccount_ValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		cmd   accountApp.OpenAccount
		field string
	}{
		{"missing owner", accountApp.OpenAccount{Currency: "USD"}, "owner_id"},
		{"negative balance", accountApp.OpenAccount{OwnerID: "o", InitialBalance: -1, Currency: "USD"}, "initial_balance"},
		{"lowercase currency", accountApp.OpenAccount{OwnerID: "o", Currency: "usd"}, "currency"},
		{"unsupported currency", accountApp.OpenAccount{OwnerID: "o", Currency: "XYZ"}, "currency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.service.OpenAccount(context.Background(), tt.cmd)

			require.ErrorIs(t, err, domainErrors.ErrValidationFailed)
			assert.Equal(t, pipeline.OutcomeValidation, pipeline.Classify(err))
			fields := pipeline.FieldErrors(err)
			require.NotEmpty(t, fields)
			assert.Equal(t, tt.field, fields[0].Field)

			assert.Zero(t, f.repo.Len())
			assert.Empty(t, f.outbox.All())
			assert.Empty(t, f.uow.Begun(), "validation runs before the unit of work")
		})
	}
}

func TestDeposit_StagesAccountAndLedgerEvents(t *testing.T) {
	f := newFixture(t)
	a := f.seedAccount(1000)
	ctx := context.Background()

	_, err := f.service.GetAccount(ctx, accountApp.GetAccount{AccountID: a.ID})
	require.NoError(t, err)
	require.True(t, f.cache.Has(accountApp.CacheKey(a.ID)))

	view, err := f.service.Deposit(ctx, accountApp.Deposit{AccountID: a.ID, Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), view.Balance)
	assert.Equal(t, 1, view.Version)

	stored, _ := f.repo.Stored(a.ID)
	assert.Equal(t, int64(1500), stored.Balance)

	rows := rowsFor(f.outbox)
	require.Len(t, rows[accountApp.DestinationAccounts], 1)
	require.Len(t, rows[accountApp.DestinationLedger], 1)
	assert.Equal(t, "account.funds_deposited", rows[accountApp.DestinationAccounts][0].EventType)
	assert.Equal(t, "ledger.entry_recorded", rows[accountApp.DestinationLedger][0].EventType)

	assert.False(t, f.cache.Has(accountApp.CacheKey(a.ID)), "deposit invalidates the cached view")
}

func TestWithdraw_LedgerEntryIsNegative(t *testing.T) {
	f := newFixture(t)
	a := f.seedAccount(1000)

	_, err := f.service.Withdraw(context.Background(), accountApp.Withdraw{AccountID: a.ID, Amount: 300})
	require.NoError(t, err)

	ledger := rowsFor(f.outbox)[accountApp.DestinationLedger]
	require.Len(t, ledger, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(ledger[0].Payload, &entry))
	assert.Equal(t, float64(-300), entry["amount"])
}

func TestWithdraw_BusinessFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	a := f.seedAccount(100)

	_, err := f.service.Withdraw(context.Background(), accountApp.Withdraw{AccountID: a.ID, Amount: 500})

	require.ErrorIs(t, err, domainErrors.ErrInsufficientFunds)
	assert.Equal(t, pipeline.OutcomeError, pipeline.Classify(err))

	stored, _ := f.repo.Stored(a.ID)
	assert.Equal(t, int64(100), stored.Balance)
	assert.Equal(t, 0, stored.Version)
	assert.Empty(t, f.outbox.All())
	assert.Equal(t, 0, f.uow.Commits())
	assert.Equal(t, 1, f.uow.Rollbacks())
}

func TestDeposit_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Deposit(context.Background(), accountApp.Deposit{AccountID: uuid.New(), Amount: 5})

	assert.ErrorIs(t, err, domainErrors.ErrAccountNotFound)
	assert.Equal(t, pipeline.OutcomeNotFound, pipeline.Classify(err))
	assert.Empty(t, f.outbox.All())
}

func TestDeposit_InvalidAmountNeverLoadsAccount(t *testing.T) {
	f := newFixture(t)
	a := f.seedAccount(100)

	_, err := f.service.Deposit(context.Background(), accountApp.Deposit{AccountID: a.ID, Amount: 0})

	assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
	assert.Zero(t, f.repo.GetCalls)
}

func TestDeposit_OptimisticLockConflict(t *testing.T) {
	f := newFixture(t)
	a := f.seedAccount(100)
	f.repo.UpdateFunc = func(ctx context.Context, _ *account.Account) error {
		return domainErrors.ErrOptimisticLockFailed
	}

	_, err := f.service.Deposit(context.Background(), accountApp.Deposit{AccountID: a.ID, Amount: 5})

	assert.ErrorIs(t, err, domainErrors.ErrOptimisticLockFailed)
	assert.Empty(t, f.outbox.All())
}

func TestSuspend_NotifiesOwner(t *testing.T) {
	f := newFixture(t)
	a := f.seedAccount(100)

	view, err := f.service.Suspend(context.Background(), accountApp.Suspend{AccountID: a.ID, Reason: "fraud review"})
	require.NoError(t, err)
	assert.Equal(t, "suspended", view.Status)

	rows := rowsFor(f.outbox)
	require.Len(t, rows[accountApp.DestinationAccounts], 1)
	require.Len(t, rows[accountApp.DestinationNotifications], 1)
	assert.Equal(t, "notification.requested", rows[accountApp.DestinationNotifications][0].EventType)

	// Suspending again records no event, so nothing is written.
	_, err = f.service.Suspend(context.Background(), accountApp.Suspend{AccountID: a.ID, Reason: "again"})
	require.NoError(t, err)
	assert.Len(t, f.outbox.All(), 2)
}

func TestGetAccount_ReadThroughCache(t *testing.T) {
	f := newFixture(t)
	a := f.seedAccount(700)
	ctx := context.Background()

	first, err := f.service.GetAccount(ctx, accountApp.GetAccount{AccountID: a.ID})
	require.NoError(t, err)
	second, err := f.service.GetAccount(ctx, accountApp.GetAccount{AccountID: a.ID})
	require.NoError(t, err)

	assert.Equal(t, int64(700), first.Balance)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Balance, second.Balance)
	assert.Equal(t, 1, f.repo.GetCalls, "second read is served from cache")
	assert.Empty(t, f.uow.Begun(), "queries open no unit of work")
}

func TestGetAccount_CacheFailureFallsBackToRepository(t *testing.T) {
	f := newFixture(t)
	a := f.seedAccount(700)
	f.cache.GetErr = errors.New("redis down")
	f.cache.SetErr = errors.New("redis down")

	view, err := f.service.GetAccount(context.Background(), accountApp.GetAccount{AccountID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(700), view.Balance)
}

func TestDeposit_CacheFailureDoesNotFailCommand(t *testing.T) {
	f := newFixture(t)
	a := f.seedAccount(100)
	f.cache.RemoveErr = errors.New("redis down")

	_, err := f.service.Deposit(context.Background(), accountApp.Deposit{AccountID: a.ID, Amount: 5})
	require.NoError(t, err)
	assert.Len(t, f.outbox.All(), 2)
}
