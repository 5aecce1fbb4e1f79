package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cassiomorais/eventrelay/internal/domain/outbox"
)

// MemoryOutboxStore implements outbox.Store, outbox.Janitor and
// outbox.StatsReader in memory with the same transition rules as the
// Postgres store.
type MemoryOutboxStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*outbox.Message

	Now        func() time.Time
	AddErr     error
	FetchErr   error
	MarkErr    error
	FetchCalls int
}

func NewMemoryOutboxStore() *MemoryOutboxStore {
	return &MemoryOutboxStore{
		rows: make(map[int64]*outbox.Message),
		Now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryOutboxStore) Add(ctx context.Context, msg *outbox.Message) error {
	if s.AddErr != nil {
		return s.AddErr
	}
	cp := *msg
	Enlist(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.nextID++
		cp.ID = s.nextID
		msg.ID = cp.ID
		s.rows[cp.ID] = &cp
	})
	return nil
}

// Seed inserts messages directly, keeping non-zero IDs.
func (s *MemoryOutboxStore) Seed(msgs ...*outbox.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		cp := *m
		if cp.ID == 0 {
			s.nextID++
			cp.ID = s.nextID
		} else if cp.ID > s.nextID {
			s.nextID = cp.ID
		}
		m.ID = cp.ID
		s.rows[cp.ID] = &cp
	}
}

func (s *MemoryOutboxStore) FetchForProcessing(ctx context.Context, batchSize int, lockDuration time.Duration) ([]*outbox.Message, error) {
	if batchSize <= 0 || lockDuration <= 0 {
		return nil, outbox.ErrInvalidClaim
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.FetchCalls++
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}

	now := s.Now()
	lockedUntil := now.Add(lockDuration)

	var claimed []*outbox.Message
	for _, id := range s.sortedIDs() {
		if len(claimed) == batchSize {
			break
		}
		m := s.rows[id]
		if !m.Claimable(now) {
			continue
		}
		lu := lockedUntil
		m.LockedUntilUTC = &lu
		cp := *m
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (s *MemoryOutboxStore) MarkCompleted(ctx context.Context, id int64) error {
	return s.transition(id, func(m *outbox.Message, now time.Time) {
		m.ProcessedAtUTC = &now
		m.ProcessingAttempts++
	})
}

func (s *MemoryOutboxStore) MarkErrored(ctx context.Context, id int64, errMsg string) error {
	return s.transition(id, func(m *outbox.Message, now time.Time) {
		e := errMsg
		m.ProcessedAtUTC = &now
		m.Error = &e
		m.ProcessingAttempts++
	})
}

func (s *MemoryOutboxStore) MarkForRetry(ctx context.Context, id int64) error {
	return s.transition(id, func(m *outbox.Message, _ time.Time) {
		m.ProcessingAttempts++
	})
}

func (s *MemoryOutboxStore) transition(id int64, apply func(m *outbox.Message, now time.Time)) error {
	if s.MarkErr != nil {
		return s.MarkErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.IsTerminal() {
		return nil
	}
	apply(m, s.Now())
	return nil
}

func (s *MemoryOutboxStore) Get(ctx context.Context, id int64) (*outbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return nil, outbox.ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryOutboxStore) DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range s.sortedIDs() {
		if limit > 0 && n == int64(limit) {
			break
		}
		m := s.rows[id]
		if m.ProcessedAtUTC != nil && m.ProcessedAtUTC.Before(cutoff) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryOutboxStore) Stats(ctx context.Context) (outbox.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	var st outbox.Stats
	for _, m := range s.rows {
		switch {
		case m.ProcessedAtUTC != nil && m.Error != nil:
			st.Errored++
		case m.ProcessedAtUTC != nil:
			st.Completed++
		case m.IsLocked(now):
			st.Locked++
		default:
			st.Pending++
		}
	}
	return st, nil
}

func (s *MemoryOutboxStore) FetchCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FetchCalls
}

// All returns a snapshot of every row in ascending ID order.
func (s *MemoryOutboxStore) All() []outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Message, 0, len(s.rows))
	for _, id := range s.sortedIDs() {
		out = append(out, *s.rows[id])
	}
	return out
}

func (s *MemoryOutboxStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
