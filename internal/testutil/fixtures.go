package testutil

import (
	"time"

	"github.com/cassiomorais/eventrelay/internal/domain/account"
	"github.com/cassiomorais/eventrelay/internal/domain/outbox"
	"github.com/google/uuid"
)

// NewTestAccount returns an active account with no pending domain events.
func NewTestAccount(ownerID string, balanceCents int64, currency string) *account.Account {
	now := time.Now().UTC()
	return &account.Account{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Balance:   balanceCents,
		Currency:  currency,
		Version:   0,
		Status:    account.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewPendingMessage returns an unclaimed outbox message with a JSON payload.
func NewPendingMessage(eventType, destination string, payload any) *outbox.Message {
	msg, err := outbox.NewMessage(eventType, destination, payload, time.Now())
	if err != nil {
		panic(err)
	}
	return msg
}
