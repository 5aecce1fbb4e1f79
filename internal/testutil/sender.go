package testutil

import (
	"context"
	"sync"

	"github.com/cassiomorais/eventrelay/internal/broker"
)

// SentBatch is one call to FakeSender.Send.
type SentBatch struct {
	Destination string
	Envelopes   []broker.Envelope
	Err         error
}

// FakeSender is a broker.Sender that records batches. SendFunc decides the
// result of each Send; nil accepts every envelope.
type FakeSender struct {
	mu        sync.Mutex
	batches   []SentBatch
	delivered []broker.Envelope

	MaxBatchBytes int
	MaxMessages   int
	SendFunc      func(batch broker.Batch) error
}

func NewFakeSender() *FakeSender {
	return &FakeSender{}
}

func (s *FakeSender) CreateBatch(destination string) broker.Batch {
	return broker.NewSizedBatch(destination, s.MaxBatchBytes, s.MaxMessages)
}

func (s *FakeSender) Send(ctx context.Context, batch broker.Batch) error {
	var err error
	if s.SendFunc != nil {
		err = s.SendFunc(batch)
	}

	envs := batch.Envelopes()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, SentBatch{Destination: batch.Destination(), Envelopes: envs, Err: err})
	for i, perErr := range broker.PerMessage(len(envs), err) {
		if perErr == nil {
			s.delivered = append(s.delivered, envs[i])
		}
	}
	return err
}

func (s *FakeSender) Batches() []SentBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentBatch, len(s.batches))
	copy(out, s.batches)
	return out
}

// Delivered returns the accepted envelopes in send order.
func (s *FakeSender) Delivered() []broker.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]broker.Envelope, len(s.delivered))
	copy(out, s.delivered)
	return out
}

func (s *FakeSender) DeliveredTo(destination string) []broker.Envelope {
	var out []broker.Envelope
	for _, e := range s.Delivered() {
		if e.Destination == destination {
			out = append(out, e)
		}
	}
	return out
}

// FailIDs returns a SendFunc that rejects the envelopes whose ID is in ids
// with err and accepts the rest.
func FailIDs(err error, ids ...string) func(broker.Batch) error {
	reject := make(map[string]bool, len(ids))
	for _, id := range ids {
		reject[id] = true
	}
	return func(b broker.Batch) error {
		failures := make(map[int]error)
		for i, e := range b.Envelopes() {
			if reject[e.ID] {
				failures[i] = err
			}
		}
		switch {
		case len(failures) == 0:
			return nil
		case len(failures) == b.Len():
			return err
		}
		return &broker.BatchError{Failures: failures}
	}
}
