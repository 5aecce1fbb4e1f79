package controller

import (
	"context"
	"net/http"

	accountApp "github.com/cassiomorais/eventrelay/internal/application/account"
	"github.com/google/uuid"
)

// AccountService is the account application surface the controller calls.
type AccountService interface {
	OpenAccount(ctx context.Context, cmd accountApp.OpenAccount) (accountApp.View, error)
	Deposit(ctx context.Context, cmd accountApp.Deposit) (accountApp.View, error)
	Withdraw(ctx context.Context, cmd accountApp.Withdraw) (accountApp.View, error)
	Suspend(ctx context.Context, cmd accountApp.Suspend) (accountApp.View, error)
	GetAccount(ctx context.Context, q accountApp.GetAccount) (accountApp.View, error)
}

type AccountController struct {
	accounts AccountService
}

func NewAccountController(accounts AccountService) *AccountController {
	return &AccountController{accounts: accounts}
}

func (h *AccountController) Create(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.accounts.OpenAccount(r.Context(), accountApp.OpenAccount{
		OwnerID:        req.OwnerID,
		InitialBalance: req.InitialBalance,
		Currency:       req.Currency,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/accounts/"+view.ID.String())
	writeJSON(w, http.StatusCreated, view)
}

func (h *AccountController) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.accounts.GetAccount(r.Context(), accountApp.GetAccount{AccountID: id})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AccountController) Deposit(w http.ResponseWriter, r *http.Request) {
	h.amountCommand(w, r, func(ctx context.Context, id uuid.UUID, amount int64) (accountApp.View, error) {
		return h.accounts.Deposit(ctx, accountApp.Deposit{AccountID: id, Amount: amount})
	})
}

func (h *AccountController) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.amountCommand(w, r, func(ctx context.Context, id uuid.UUID, amount int64) (accountApp.View, error) {
		return h.accounts.Withdraw(ctx, accountApp.Withdraw{AccountID: id, Amount: amount})
	})
}

func (h *AccountController) Suspend(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req SuspendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.accounts.Suspend(r.Context(), accountApp.Suspend{AccountID: id, Reason: req.Reason})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AccountController) amountCommand(
	w http.ResponseWriter,
	r *http.Request,
	run func(ctx context.Context, id uuid.UUID, amount int64) (accountApp.View, error),
) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req AmountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := run(r.Context(), id, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
