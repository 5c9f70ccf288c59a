package watermill

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egannguyen/storefront/internal/entity"
	"github.com/egannguyen/storefront/internal/messaging"
)

var testRetry = messaging.RetryPolicy{
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
	MaxElapsed:      time.Second,
}

func TestGoChannelRoundTrip(t *testing.T) {
	broker := NewGoChannel(gochannel.Config{Persistent: true}, testRetry, slog.New(slog.DiscardHandler))
	defer broker.Close()

	var _ messaging.Publisher = broker
	var _ messaging.Subscriber = broker

	event := entity.OrderCreated{OrderID: 7, UserID: 5, ItemID: 2, ItemName: "Lamp", Quantity: 3}
	require.NoError(t, broker.PublishEvent(context.Background(), messaging.TopicOrderCreated, "7", event))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received []entity.OrderCreated
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		broker.Consume(ctx, messaging.TopicOrderCreated, "test", func(_ context.Context, payload []byte) error {
			var got entity.OrderCreated
			if err := json.Unmarshal(payload, &got); err != nil {
				return err
			}
			mu.Lock()
			received = append(received, got)
			mu.Unlock()
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, event, received[0])
	mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}

func TestConsumeRetriesFailingHandler(t *testing.T) {
	broker := NewGoChannel(gochannel.Config{Persistent: true}, testRetry, slog.New(slog.DiscardHandler))
	defer broker.Close()

	require.NoError(t, broker.PublishEvent(context.Background(), "retry.topic", "1", entity.OrderCreated{OrderID: 1}))
	require.NoError(t, broker.PublishEvent(context.Background(), "retry.topic", "2", entity.OrderCreated{OrderID: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		calls = map[int64]int{}
		done  = make(chan struct{})
	)
	go func() {
		defer close(done)
		broker.Consume(ctx, "retry.topic", "test", func(_ context.Context, payload []byte) error {
			var got entity.OrderCreated
			if err := json.Unmarshal(payload, &got); err != nil {
				return messaging.Permanent(err)
			}
			mu.Lock()
			defer mu.Unlock()
			calls[got.OrderID]++
			if got.OrderID == 1 && calls[got.OrderID] < 3 {
				return errors.New("version conflict")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls[2] == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 3, calls[1], "the failing message is retried until it succeeds")
	mu.Unlock()

	cancel()
	<-done
}
