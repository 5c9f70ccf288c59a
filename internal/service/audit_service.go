package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/egannguyen/storefront/internal/entity"
	"github.com/egannguyen/storefront/internal/messaging"
	"github.com/egannguyen/storefront/internal/repository"
)

const orderStreamType = "order"

// AuditService records published order events in the event store.
type AuditService struct {
	events repository.EventStore
}

func NewAuditService(events repository.EventStore) *AuditService {
	return &AuditService{events: events}
}

// Run consumes orders.created until ctx is cancelled.
func (s *AuditService) Run(ctx context.Context, sub messaging.Subscriber, groupID string) {
	slog.Info("🔄 Audit consumer started", "topic", messaging.TopicOrderCreated, "group", groupID)
	sub.Consume(ctx, messaging.TopicOrderCreated, groupID, s.HandleOrderCreated)
}

// HandleOrderCreated appends the event to the order's stream. A redelivered
// event for an order that already has one is skipped. A malformed payload is
// a messaging.PermanentError; a version conflict is returned as-is so the
// consumer retries and then sees the event already recorded.
func (s *AuditService) HandleOrderCreated(ctx context.Context, payload []byte) error {
	var event entity.OrderCreated
	if err := json.Unmarshal(payload, &event); err != nil {
		return messaging.Permanent(fmt.Errorf("failed to unmarshal OrderCreated event: %w", err))
	}

	streamID := strconv.FormatInt(event.OrderID, 10)
	records, err := s.events.LoadEvents(ctx, streamID)
	if err != nil {
		return fmt.Errorf("failed to load order history: %w", err)
	}

	version := 0
	for _, rec := range records {
		if rec.EventType == event.EventType() {
			slog.Info("Order event already recorded (idempotency)", "order_id", event.OrderID)
			return nil
		}
		version = rec.Version
	}

	err = s.events.SaveEvents(ctx, streamID, orderStreamType, version, []entity.Event{event})
	if errors.Is(err, entity.ErrVersionConflict) {
		slog.Info("Order stream changed concurrently", "order_id", event.OrderID, "err", err)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to save OrderCreated event: %w", err)
	}

	slog.Debug("Order event recorded", "order_id", event.OrderID, "item_id", event.ItemID)
	return nil
}

// History returns the recorded events of one order, oldest first.
func (s *AuditService) History(ctx context.Context, orderID int64) ([]entity.EventStoreRecord, error) {
	return s.events.LoadEvents(ctx, strconv.FormatInt(orderID, 10))
}
