package controller

import (
	"github.com/cassiomorais/eventrelay/internal/application/pipeline"
)

// Request bodies. Amounts are integer minor units (cents). Field rules are
// enforced by the command pipeline, not here.

type OpenAccountRequest struct {
	OwnerID        string `json:"owner_id"`
	InitialBalance int64  `json:"initial_balance"`
	Currency       string `json:"currency"`
}

type AmountRequest struct {
	Amount int64 `json:"amount"`
}

type SuspendRequest struct {
	Reason string `json:"reason"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error  string                `json:"error"`
	Code   string                `json:"code"`
	Fields []pipeline.FieldError `json:"fields,omitempty"`
}
