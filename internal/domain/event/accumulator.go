package event

import "context"

// Accumulator collects integration events staged while one command runs,
// keyed by destination. It is owned by a single request and is not safe for
// concurrent use.
type Accumulator struct {
	byDestination map[string][]IntegrationEvent
	order         []string
	count         int
}

func NewAccumulator() *Accumulator {
	return &Accumulator{byDestination: make(map[string][]IntegrationEvent)}
}

// Add stages e for destination, preserving staging order per destination.
func (a *Accumulator) Add(destination string, e IntegrationEvent) {
	if _, seen := a.byDestination[destination]; !seen {
		a.order = append(a.order, destination)
	}
	a.byDestination[destination] = append(a.byDestination[destination], e)
	a.count++
}

// EventsToSend returns a copy of the staged events keyed by destination.
func (a *Accumulator) EventsToSend() map[string][]IntegrationEvent {
	out := make(map[string][]IntegrationEvent, len(a.byDestination))
	for dest, events := range a.byDestination {
		cp := make([]IntegrationEvent, len(events))
		copy(cp, events)
		out[dest] = cp
	}
	return out
}

// Destinations lists destinations in the order they were first used.
func (a *Accumulator) Destinations() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

func (a *Accumulator) Len() int {
	return a.count
}

func (a *Accumulator) Clear() {
	a.byDestination = make(map[string][]IntegrationEvent)
	a.order = nil
	a.count = 0
}

type ctxKey struct{}

// WithAccumulator binds acc to ctx for the duration of one command.
func WithAccumulator(ctx context.Context, acc *Accumulator) context.Context {
	return context.WithValue(ctx, ctxKey{}, acc)
}

// AccumulatorFrom returns the accumulator bound to ctx, if any.
func AccumulatorFrom(ctx context.Context) (*Accumulator, bool) {
	acc, ok := ctx.Value(ctxKey{}).(*Accumulator)
	return acc, ok && acc != nil
}

// Stage adds e to the accumulator bound to ctx.
func Stage(ctx context.Context, destination string, e IntegrationEvent) error {
	acc, ok := AccumulatorFrom(ctx)
	if !ok {
		return ErrNoAccumulator
	}
	acc.Add(destination, e)
	return nil
}
