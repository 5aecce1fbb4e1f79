package account

import (
	"github.com/cassiomorais/eventrelay/internal/domain/event"
	"github.com/google/uuid"
)

// Domain events raised by Account.

type Opened struct {
	event.Base
	AccountID      uuid.UUID
	OwnerID        string
	InitialBalance int64
	Currency       string
}

type Deposited struct {
	event.Base
	AccountID    uuid.UUID
	Amount       int64
	BalanceAfter int64
}

type Withdrawn struct {
	event.Base
	AccountID    uuid.UUID
	Amount       int64
	BalanceAfter int64
}

type Suspended struct {
	event.Base
	AccountID uuid.UUID
	OwnerID   string
	Reason    string
}
