package repository

import (
	"context"

	"github.com/egannguyen/storefront/internal/entity"
)

// ItemRepository handles persistence for Items.
// UpdateByID, UpdateAll and ReplaceByID write stock directly, bypassing the StockLedger.
type ItemRepository interface {
	Create(ctx context.Context, item entity.Item) (entity.Item, error)
	FindByID(ctx context.Context, id int64) (entity.Item, error)
	FindAll(ctx context.Context) ([]entity.Item, error)
	Filter(ctx context.Context, filter entity.ItemFilter) ([]entity.Item, error)
	Count(ctx context.Context, filter entity.ItemFilter) (int64, error)
	UpdateByID(ctx context.Context, id int64, patch entity.ItemPatch) error
	// UpdateAll applies patch to every item matching filter and returns the number updated.
	UpdateAll(ctx context.Context, patch entity.ItemPatch, filter entity.ItemFilter) (int64, error)
	ReplaceByID(ctx context.Context, id int64, item entity.Item) error
	DeleteByID(ctx context.Context, id int64) error
}

// UserRepository handles persistence for Users.
type UserRepository interface {
	Create(ctx context.Context, user entity.User) (entity.User, error)
	FindByID(ctx context.Context, id int64) (entity.User, error)
	FindAll(ctx context.Context) ([]entity.User, error)
}

// OrderRepository reads Orders. Orders are only written through StockLedger.ReserveAndRecord.
type OrderRepository interface {
	FindByID(ctx context.Context, id int64) (entity.Order, error)
	FindAll(ctx context.Context) ([]entity.Order, error)
}

// StockLedger is the only path that decrements stock on behalf of an order.
// Both operations are atomic per item: concurrent calls for the same item never
// observe the same pre-decrement stock, so stock never goes negative.
type StockLedger interface {
	// Reserve decrements the item's stock by quantity and returns the item as it was before.
	Reserve(ctx context.Context, itemID int64, quantity int) (entity.ReservedItem, error)
	// ReserveAndRecord reserves stock and inserts the Order as a single unit.
	// If the insert fails the decrement is not kept.
	ReserveAndRecord(ctx context.Context, userID, itemID int64, quantity int) (entity.ReservedItem, entity.Order, error)
}

// EventStore handles appending and loading events for an aggregate stream.
type EventStore interface {
	SaveEvents(ctx context.Context, streamID string, streamType string, expectedVersion int, events []entity.Event) error
	LoadEvents(ctx context.Context, streamID string) ([]entity.EventStoreRecord, error)
}

// Repositories groups one backend's implementations.
type Repositories struct {
	Items  ItemRepository
	Users  UserRepository
	Orders OrderRepository
	Ledger StockLedger
	Events EventStore
	// Ping reports whether the backend is reachable.
	Ping func(ctx context.Context) error
}
