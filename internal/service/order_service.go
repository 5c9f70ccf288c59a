package service

import (
	"context"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/egannguyen/storefront/internal/cache"
	"github.com/egannguyen/storefront/internal/entity"
	"github.com/egannguyen/storefront/internal/messaging"
	"github.com/egannguyen/storefront/internal/repository"
)

var tracer = otel.Tracer("github.com/egannguyen/storefront/internal/service")

// OrderService orchestrates order placement.
type OrderService struct {
	users     repository.UserRepository
	orders    repository.OrderRepository
	ledger    repository.StockLedger
	itemCache cache.ItemCache
	publisher messaging.Publisher
}

func NewOrderService(
	users repository.UserRepository,
	orders repository.OrderRepository,
	ledger repository.StockLedger,
	itemCache cache.ItemCache,
	publisher messaging.Publisher,
) *OrderService {
	return &OrderService{
		users:     users,
		orders:    orders,
		ledger:    ledger,
		itemCache: itemCache,
		publisher: publisher,
	}
}

// GetOrders returns every order line.
func (s *OrderService) GetOrders(ctx context.Context) ([]entity.Order, error) {
	return s.orders.FindAll(ctx)
}

func (s *OrderService) GetOrder(ctx context.Context, id int64) (entity.Order, error) {
	return s.orders.FindByID(ctx, id)
}

// PlaceOrder resolves the user once, then reserves stock and records an order
// for each line in the order given. It stops at the first failing line.
// Lines committed before the failure stay committed and are reported through
// *entity.PartialOrderError; errors.Is still matches the underlying cause.
func (s *OrderService) PlaceOrder(ctx context.Context, cmd entity.PlaceOrder) (*entity.OrderResult, error) {
	ctx, span := tracer.Start(ctx, "OrderService.PlaceOrder", trace.WithAttributes(
		attribute.Int64("user.id", cmd.UserID),
		attribute.Int("order.lines", len(cmd.Lines)),
	))
	defer span.End()

	result, err := s.placeOrder(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

func (s *OrderService) placeOrder(ctx context.Context, cmd entity.PlaceOrder) (*entity.OrderResult, error) {
	slog.InfoContext(ctx, "Service: Placing order", "user_id", cmd.UserID, "items", len(cmd.Lines))

	if cmd.UserID <= 0 {
		return nil, &entity.InvalidInputError{Field: "user_id", Reason: "must be positive"}
	}
	if len(cmd.Lines) == 0 {
		return nil, &entity.InvalidInputError{Field: "items", Reason: "order must have at least one item"}
	}

	user, err := s.users.FindByID(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}

	result := &entity.OrderResult{
		User:   user,
		Orders: make([]entity.OrderLineResult, 0, len(cmd.Lines)),
	}
	for _, line := range cmd.Lines {
		reserved, order, err := s.reserveLine(ctx, user.ID, line)
		if err != nil {
			slog.WarnContext(ctx, "Order line rejected",
				"user_id", user.ID,
				"item_id", line.ItemID,
				"count", line.Count,
				"committed", len(result.Orders),
				"err", err,
			)
			if len(result.Orders) > 0 {
				return nil, &entity.PartialOrderError{Created: result.Orders, Err: err}
			}
			return nil, err
		}

		s.afterReserve(ctx, reserved, order)
		result.Orders = append(result.Orders, entity.OrderLineResult{
			OrderID:     order.ID,
			ItemID:      order.ItemID,
			ItemName:    reserved.ItemName,
			StockNumber: order.StockNumber,
		})
	}

	slog.InfoContext(ctx, "✅ Order placed", "user_id", user.ID, "orders", len(result.Orders))
	return result, nil
}

func (s *OrderService) reserveLine(ctx context.Context, userID int64, line entity.OrderLine) (entity.ReservedItem, entity.Order, error) {
	ctx, span := tracer.Start(ctx, "StockLedger.ReserveAndRecord", trace.WithAttributes(
		attribute.Int64("item.id", line.ItemID),
		attribute.Int("item.quantity", line.Count),
	))
	defer span.End()

	reserved, order, err := s.ledger.ReserveAndRecord(ctx, userID, line.ItemID, line.Count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return entity.ReservedItem{}, entity.Order{}, err
	}
	span.SetAttributes(attribute.Int("item.remaining", reserved.Remaining))
	return reserved, order, nil
}

// afterReserve runs the side effects of a committed line. Their failures are
// logged only: the order already exists and must be reported as created.
func (s *OrderService) afterReserve(ctx context.Context, reserved entity.ReservedItem, order entity.Order) {
	if err := s.itemCache.Invalidate(ctx, order.ItemID); err != nil {
		slog.WarnContext(ctx, "Failed to invalidate cached item", "item_id", order.ItemID, "err", err)
	}

	event := entity.OrderCreated{
		OrderID:   order.ID,
		UserID:    order.UserID,
		ItemID:    order.ItemID,
		ItemName:  reserved.ItemName,
		Quantity:  order.StockNumber,
		Remaining: reserved.Remaining,
		CreatedAt: order.CreatedAt,
	}
	if err := s.publisher.PublishEvent(ctx, messaging.TopicOrderCreated, strconv.FormatInt(order.ID, 10), event); err != nil {
		slog.ErrorContext(ctx, "Failed to publish OrderCreated event", "order_id", order.ID, "err", err)
	}
}
