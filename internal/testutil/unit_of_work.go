package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/cassiomorais/eventrelay/internal/application/pipeline"
)

var errAlreadyFinished = errors.New("unit of work already finished")

type uowKey struct{}

// MemoryUnitOfWork buffers write operations and applies them on SaveChanges.
type MemoryUnitOfWork struct {
	mu          sync.Mutex
	pending     []func()
	saveErr     error
	rollbackErr error
	committed   bool
	rolledBack  bool
}

func (u *MemoryUnitOfWork) enlist(op func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending = append(u.pending, op)
}

func (u *MemoryUnitOfWork) HasChanges() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending) > 0
}

func (u *MemoryUnitOfWork) SaveChanges(ctx context.Context) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.committed || u.rolledBack {
		return 0, errAlreadyFinished
	}
	if u.saveErr != nil {
		return 0, u.saveErr
	}
	for _, op := range u.pending {
		op()
	}
	n := len(u.pending)
	u.pending = nil
	u.committed = true
	return n, nil
}

func (u *MemoryUnitOfWork) Rollback(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.committed {
		return nil
	}
	u.pending = nil
	u.rolledBack = true
	return u.rollbackErr
}

func (u *MemoryUnitOfWork) Committed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.committed
}

func (u *MemoryUnitOfWork) RolledBack() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rolledBack
}

// MemoryUnitOfWorkFactory is a pipeline.UnitOfWorkFactory for tests.
type MemoryUnitOfWorkFactory struct {
	mu    sync.Mutex
	begun []*MemoryUnitOfWork

	BeginErr    error
	SaveErr     error
	RollbackErr error
}

func NewMemoryUnitOfWorkFactory() *MemoryUnitOfWorkFactory {
	return &MemoryUnitOfWorkFactory{}
}

func (f *MemoryUnitOfWorkFactory) Begin(ctx context.Context) (context.Context, pipeline.UnitOfWork, error) {
	if f.BeginErr != nil {
		return ctx, nil, f.BeginErr
	}
	u := &MemoryUnitOfWork{saveErr: f.SaveErr, rollbackErr: f.RollbackErr}

	f.mu.Lock()
	f.begun = append(f.begun, u)
	f.mu.Unlock()

	return context.WithValue(ctx, uowKey{}, u), u, nil
}

// Begun returns every unit of work opened so far.
func (f *MemoryUnitOfWorkFactory) Begun() []*MemoryUnitOfWork {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*MemoryUnitOfWork, len(f.begun))
	copy(out, f.begun)
	return out
}

func (f *MemoryUnitOfWorkFactory) Commits() int {
	n := 0
	for _, u := range f.Begun() {
		if u.Committed() {
			n++
		}
	}
	return n
}

func (f *MemoryUnitOfWorkFactory) Rollbacks() int {
	n := 0
	for _, u := range f.Begun() {
		if u.RolledBack() {
			n++
		}
	}
	return n
}

// Enlist defers op to the unit of work carried by ctx, or runs it at once
// when ctx carries none.
func Enlist(ctx context.Context, op func()) {
	if u, ok := ctx.Value(uowKey{}).(*MemoryUnitOfWork); ok {
		u.enlist(op)
		return
	}
	op()
}
