package event

// Recorder is embedded by aggregates to stage domain events until the
// command that mutated them dispatches them.
type Recorder struct {
	events []DomainEvent
}

func (r *Recorder) Record(e DomainEvent) {
	r.events = append(r.events, e)
}

// DomainEvents returns the staged events without clearing them.
func (r *Recorder) DomainEvents() []DomainEvent {
	out := make([]DomainEvent, len(r.events))
	copy(out, r.events)
	return out
}

// PullDomainEvents returns the staged events and clears the recorder.
func (r *Recorder) PullDomainEvents() []DomainEvent {
	out := r.events
	r.events = nil
	return out
}
