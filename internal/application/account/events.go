package account

import (
	"github.com/cassiomorais/eventrelay/internal/domain/event"
	"github.com/google/uuid"
)

// Outbox destinations for account integration events.
const (
	DestinationAccounts      = "accounts"
	DestinationLedger        = "ledger"
	DestinationNotifications = "notifications"
)

// Integration events published to external consumers.

type AccountOpened struct {
	event.Base
	AccountID      uuid.UUID `json:"account_id"`
	OwnerID        string    `json:"owner_id"`
	InitialBalance int64     `json:"initial_balance"`
	Currency       string    `json:"currency"`
}

func (AccountOpened) EventType() string { return "account.opened" }

type FundsDeposited struct {
	event.Base
	AccountID    uuid.UUID `json:"account_id"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
}

func (FundsDeposited) EventType() string { return "account.funds_deposited" }

type FundsWithdrawn struct {
	event.Base
	AccountID    uuid.UUID `json:"account_id"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
}

func (FundsWithdrawn) EventType() string { return "account.funds_withdrawn" }

type AccountSuspended struct {
	event.Base
	AccountID uuid.UUID `json:"account_id"`
	Reason    string    `json:"reason"`
}

func (AccountSuspended) EventType() string { return "account.suspended" }

// LedgerEntryRecorded is a signed balance movement; withdrawals are negative.
type LedgerEntryRecorded struct {
	event.Base
	AccountID uuid.UUID `json:"account_id"`
	Amount    int64     `json:"amount"`
}

func (LedgerEntryRecorded) EventType() string { return "ledger.entry_recorded" }

type OwnerNotificationRequested struct {
	event.Base
	OwnerID  string `json:"owner_id"`
	Template string `json:"template"`
	Subject  string `json:"subject"`
}

func (OwnerNotificationRequested) EventType() string { return "notification.requested" }
