package account

import (
	"time"

	"github.com/cassiomorais/eventrelay/internal/domain/account"
	"github.com/google/uuid"
)

type OpenAccount struct {
	OwnerID        string `json:"owner_id" validate:"required,max=64"`
	InitialBalance int64  `json:"initial_balance" validate:"gte=0"`
	Currency       string `json:"currency" validate:"required,len=3,uppercase"`
}

type Deposit struct {
	AccountID uuid.UUID `json:"account_id" validate:"required"`
	Amount    int64     `json:"amount" validate:"gt=0"`
}

type Withdraw struct {
	AccountID uuid.UUID `json:"account_id" validate:"required"`
	Amount    int64     `json:"amount" validate:"gt=0"`
}

type Suspend struct {
	AccountID uuid.UUID `json:"account_id" validate:"required"`
	Reason    string    `json:"reason" validate:"required,max=256"`
}

type GetAccount struct {
	AccountID uuid.UUID `json:"account_id" validate:"required"`
}

// View is the read model returned by every account command and query. It is
// also the cached representation.
type View struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Balance   int64     `json:"balance"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewView(a *account.Account) View {
	return View{
		ID:        a.ID,
		OwnerID:   a.OwnerID,
		Balance:   a.Balance,
		Currency:  a.Currency,
		Status:    string(a.Status),
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
