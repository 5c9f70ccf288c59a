package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the circuit breaker around a Publisher.
type BreakerSettings struct {
	Name string
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before a trial request.
	OpenTimeout time.Duration
}

type breakerPublisher struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerPublisher wraps next so that a broker outage fails fast with
// gobreaker.ErrOpenState instead of blocking every order on a dead connection.
func NewBreakerPublisher(next Publisher, settings BreakerSettings) Publisher {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.OpenTimeout == 0 {
		settings.OpenTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    settings.Name,
		Timeout: settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Publisher circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &breakerPublisher{next: next, cb: cb}
}

func (b *breakerPublisher) PublishEvent(ctx context.Context, topic string, key string, event any) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.PublishEvent(ctx, topic, key, event)
	})
	return err
}
