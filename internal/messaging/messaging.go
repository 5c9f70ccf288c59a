package messaging

import "context"

// TopicOrderCreated carries one entity.OrderCreated per persisted order line.
const TopicOrderCreated = "orders.created"

// Publisher defines an interface for publishing events to a message broker.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, key string, event any) error
}

// Subscriber defines an interface for subscribing to a message topic.
// Consume blocks until ctx is cancelled.
type Subscriber interface {
	Consume(ctx context.Context, topic string, groupID string, handler func(ctx context.Context, payload []byte) error)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishEvent(context.Context, string, string, any) error { return nil }
