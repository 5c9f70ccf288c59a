// Package watermill adapts watermill publishers and subscribers to the
// messaging interfaces. It supports an in-process gochannel bus and Kafka via sarama.
package watermill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/egannguyen/storefront/internal/messaging"
)

// keyMetadata holds the partition key of a message.
const keyMetadata = "key"

type subscriberFactory func(groupID string) (sub message.Subscriber, closeFn func() error, err error)

// Broker implements messaging.Publisher and messaging.Subscriber on top of watermill.
type Broker struct {
	publisher     message.Publisher
	newSubscriber subscriberFactory
	retry         messaging.RetryPolicy
	logger        *slog.Logger
}

// NewGoChannel creates an in-process broker. Every subscriber receives every
// message regardless of its group.
func NewGoChannel(cfg gochannel.Config, retry messaging.RetryPolicy, logger *slog.Logger) *Broker {
	pubSub := gochannel.NewGoChannel(cfg, watermill.NewSlogLogger(logger))
	return &Broker{
		publisher: pubSub,
		newSubscriber: func(string) (message.Subscriber, func() error, error) {
			// The shared channel is closed by Broker.Close.
			return pubSub, func() error { return nil }, nil
		},
		retry:  retry,
		logger: logger,
	}
}

// NewKafka creates a broker backed by watermill-kafka.
func NewKafka(brokers []string, clientID string, retry messaging.RetryPolicy, logger *slog.Logger) (*Broker, error) {
	wmLogger := watermill.NewSlogLogger(logger)
	marshaler := wmkafka.NewWithPartitioningMarshaler(func(_ string, msg *message.Message) (string, error) {
		return msg.Metadata.Get(keyMetadata), nil
	})

	saramaCfg := wmkafka.DefaultSaramaSyncPublisherConfig()
	saramaCfg.ClientID = clientID
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll

	publisher, err := wmkafka.NewPublisher(wmkafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             marshaler,
		OverwriteSaramaConfig: saramaCfg,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	newSubscriber := func(groupID string) (message.Subscriber, func() error, error) {
		subCfg := wmkafka.DefaultSaramaSubscriberConfig()
		subCfg.ClientID = clientID
		subCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

		sub, err := wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           marshaler,
			OverwriteSaramaConfig: subCfg,
			ConsumerGroup:         groupID,
		}, wmLogger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create kafka subscriber: %w", err)
		}
		return sub, sub.Close, nil
	}

	return &Broker{publisher: publisher, newSubscriber: newSubscriber, retry: retry, logger: logger}, nil
}

func (b *Broker) PublishEvent(ctx context.Context, topic string, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(keyMetadata, key)
	msg.SetContext(ctx)

	if err := b.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Consume retries a failing handler per the broker's policy, then acks. A
// message still failing when ctx ends is nacked so it is redelivered.
func (b *Broker) Consume(ctx context.Context, topic string, groupID string, handler func(ctx context.Context, payload []byte) error) {
	sub, closeSub, err := b.newSubscriber(groupID)
	if err != nil {
		b.logger.Error("Failed to create subscriber", "topic", topic, "err", err)
		return
	}
	defer closeSub()

	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		b.logger.Error("Failed to subscribe", "topic", topic, "err", err)
		return
	}

	for msg := range messages {
		if err := messaging.Retry(ctx, b.retry, msg.Payload, handler); err != nil {
			if ctx.Err() != nil {
				msg.Nack()
				break
			}
			b.logger.Error("Dropping message after failed handling", "topic", topic, "message_uuid", msg.UUID, "err", err)
		}
		msg.Ack()
	}
	b.logger.Info("Consumer shutting down", "topic", topic)
}

func (b *Broker) Close() error {
	return b.publisher.Close()
}
