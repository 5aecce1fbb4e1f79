package account

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for account persistence
type Repository interface {
	// GetByID retrieves an account by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// Add inserts a new account
	Add(ctx context.Context, account *Account) error

	// Update updates an existing account with optimistic locking
	Update(ctx context.Context, account *Account) error
}
