package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cassiomorais/eventrelay/internal/domain/account"
	domainErrors "github.com/cassiomorais/eventrelay/internal/domain/errors"
	"github.com/cassiomorais/eventrelay/internal/domain/event"
	"github.com/google/uuid"
)

// --- Account Repository Mock ---

// MockAccountRepository is an in-memory account.Repository. Writes join the
// unit of work carried by ctx, so they are only visible after commit.
type MockAccountRepository struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]account.Account

	GetByIDFunc func(ctx context.Context, id uuid.UUID) (*account.Account, error)
	AddFunc     func(ctx context.Context, a *account.Account) error
	UpdateFunc  func(ctx context.Context, a *account.Account) error
	GetCalls    int
}

func NewMockAccountRepository() *MockAccountRepository {
	return &MockAccountRepository{accounts: make(map[uuid.UUID]account.Account)}
}

// Seed stores accounts directly, bypassing any unit of work.
func (m *MockAccountRepository) Seed(accounts ...*account.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range accounts {
		m.accounts[a.ID] = snapshot(a)
	}
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	m.mu.Lock()
	m.GetCalls++
	m.mu.Unlock()
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, domainErrors.ErrAccountNotFound
	}
	return &a, nil
}

func (m *MockAccountRepository) Add(ctx context.Context, a *account.Account) error {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, a)
	}
	cp := snapshot(a)
	Enlist(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.accounts[cp.ID] = cp
	})
	return nil
}

func (m *MockAccountRepository) Update(ctx context.Context, a *account.Account) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, a)
	}
	m.mu.Lock()
	stored, ok := m.accounts[a.ID]
	m.mu.Unlock()
	if !ok {
		return domainErrors.ErrAccountNotFound
	}
	if stored.Version != a.Version-1 {
		return domainErrors.ErrOptimisticLockFailed
	}

	cp := snapshot(a)
	Enlist(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.accounts[cp.ID] = cp
	})
	return nil
}

// Stored returns the committed state of id.
func (m *MockAccountRepository) Stored(id uuid.UUID) (account.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	return a, ok
}

func (m *MockAccountRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

func snapshot(a *account.Account) account.Account {
	cp := *a
	cp.Recorder = event.Recorder{}
	return cp
}

// --- Cache Mock ---

// MemoryCache stores JSON-encoded values like the Redis cache does.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	removed []string

	GetErr    error
	SetErr    error
	RemoveErr error
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

func (c *MemoryCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	if c.GetErr != nil {
		return false, c.GetErr
	}
	c.mu.Lock()
	raw, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.SetErr != nil {
		return c.SetErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *MemoryCache) Remove(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, keys...)
	if c.RemoveErr != nil {
		return c.RemoveErr
	}
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *MemoryCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Removed lists every key passed to Remove, including failed calls.
func (c *MemoryCache) Removed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.removed))
	copy(out, c.removed)
	return out
}
