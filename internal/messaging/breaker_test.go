package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPublisher struct {
	calls int
	err   error
}

func (p *failingPublisher) PublishEvent(context.Context, string, string, any) error {
	p.calls++
	return p.err
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingPublisher{err: errors.New("broker down")}
	pub := NewBreakerPublisher(inner, BreakerSettings{Name: "test", MaxFailures: 3, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		err := pub.PublishEvent(context.Background(), TopicOrderCreated, "1", struct{}{})
		require.EqualError(t, err, "broker down")
	}

	err := pub.PublishEvent(context.Background(), TopicOrderCreated, "1", struct{}{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, inner.calls, "open breaker must not reach the broker")
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	inner := &failingPublisher{}
	pub := NewBreakerPublisher(inner, BreakerSettings{Name: "test"})

	for i := 0; i < 10; i++ {
		require.NoError(t, pub.PublishEvent(context.Background(), TopicOrderCreated, "1", struct{}{}))
	}
	assert.Equal(t, 10, inner.calls)
}
