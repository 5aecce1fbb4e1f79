package broker

// SizedBatch is a Batch bounded by total bytes and message count. A zero
// limit disables that bound.
type SizedBatch struct {
	destination string
	maxBytes    int
	maxMessages int
	size        int
	envelopes   []Envelope
}

func NewSizedBatch(destination string, maxBytes, maxMessages int) *SizedBatch {
	return &SizedBatch{
		destination: destination,
		maxBytes:    maxBytes,
		maxMessages: maxMessages,
	}
}

func (b *SizedBatch) Destination() string {
	return b.destination
}

func (b *SizedBatch) TryAdd(e Envelope) bool {
	if b.maxMessages > 0 && len(b.envelopes) >= b.maxMessages {
		return false
	}
	s := e.Size()
	if b.maxBytes > 0 && b.size+s > b.maxBytes {
		return false
	}
	b.envelopes = append(b.envelopes, e)
	b.size += s
	return true
}

func (b *SizedBatch) Envelopes() []Envelope {
	return b.envelopes
}

func (b *SizedBatch) Len() int {
	return len(b.envelopes)
}

// SizeBytes is the estimated encoded size of the batch.
func (b *SizedBatch) SizeBytes() int {
	return b.size
}
