package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"

	"github.com/egannguyen/storefront/internal/messaging"
)

// writeBatchTimeout caps how long a synchronous publish waits for its batch to fill.
const writeBatchTimeout = 10 * time.Millisecond

// Broker publishes and consumes JSON events with segmentio/kafka-go.
type Broker struct {
	brokers []string
	retry   messaging.RetryPolicy

	mu      sync.Mutex
	writers map[string]*kafkaGo.Writer
}

// NewBroker creates a Kafka publisher and subscriber.
func NewBroker(brokers []string, retry messaging.RetryPolicy) *Broker {
	return &Broker{
		brokers: brokers,
		retry:   retry,
		writers: make(map[string]*kafkaGo.Writer),
	}
}

// writer returns one long-lived writer per topic.
func (k *Broker) writer(topic string) *kafkaGo.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()

	w, ok := k.writers[topic]
	if !ok {
		w = &kafkaGo.Writer{
			Addr:                   kafkaGo.TCP(k.brokers...),
			Topic:                  topic,
			Balancer:               &kafkaGo.Hash{},
			RequiredAcks:           kafkaGo.RequireAll,
			BatchTimeout:           writeBatchTimeout,
			AllowAutoTopicCreation: true,
		}
		k.writers[topic] = w
	}
	return w
}

// PublishEvent keys messages by key so every event of one order lands on one partition.
func (k *Broker) PublishEvent(ctx context.Context, topic string, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return k.writer(topic).WriteMessages(ctx, kafkaGo.Message{
		Key:   []byte(key),
		Value: payload,
	})
}

// Consume commits a message only after the handler succeeded or failed
// permanently. A message still failing when ctx ends stays uncommitted and
// is redelivered to the group.
func (k *Broker) Consume(ctx context.Context, topic string, groupID string, handler func(ctx context.Context, payload []byte) error) {
	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers: k.brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Consumer shutting down", "topic", topic)
				return
			}
			slog.Error("Error reading message", "topic", topic, "err", err)
			continue
		}

		if err := messaging.Retry(ctx, k.retry, msg.Value, handler); err != nil {
			if ctx.Err() != nil {
				slog.Info("Consumer shutting down, message left uncommitted", "topic", topic, "offset", msg.Offset)
				return
			}
			slog.Error("Dropping message after failed handling", "topic", topic, "offset", msg.Offset, "err", err)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Failed to commit message", "topic", topic, "offset", msg.Offset, "err", err)
		}
	}
}

// Close flushes and closes every writer.
func (k *Broker) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var errs []error
	for topic, w := range k.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close writer for %s: %w", topic, err))
		}
		delete(k.writers, topic)
	}
	return errors.Join(errs...)
}
