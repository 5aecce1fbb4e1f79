package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	Name string
	// MaxFailures is the number of consecutive transport failures that opens the circuit.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration
	// Interval resets failure counts while closed. Zero never resets.
	Interval time.Duration
	// OnStateChange, when set, is called after every transition.
	OnStateChange func(name string, to gobreaker.State)
}

// BreakerSender wraps a Sender with a circuit breaker. Only ErrUnavailable
// failures count against the breaker; partial batch failures do not.
type BreakerSender struct {
	next    Sender
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerSender(next Sender, s BreakerSettings, logger zerolog.Logger) *BreakerSender {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.Name == "" {
		s.Name = "broker"
	}
	log := logger.With().Str("component", "broker_breaker").Str("breaker", s.Name).Logger()

	return &BreakerSender{
		next: next,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        s.Name,
			MaxRequests: 1,
			Interval:    s.Interval,
			Timeout:     s.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= s.MaxFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, ErrUnavailable)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
				if s.OnStateChange != nil {
					s.OnStateChange(name, to)
				}
			},
		}),
	}
}

func (b *BreakerSender) CreateBatch(destination string) Batch {
	return b.next.CreateBatch(destination)
}

func (b *BreakerSender) Send(ctx context.Context, batch Batch) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Send(ctx, batch)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.breaker.Name())
	}
	return err
}

// State reports the breaker state, e.g. for readiness checks.
func (b *BreakerSender) State() gobreaker.State {
	return b.breaker.State()
}
