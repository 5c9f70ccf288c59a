// Package memory is an in-process record store used for local runs and tests.
//
// Lock order is mu (item map) -> itemRecord.mu -> ordersMu. Each item carries
// its own mutex so reservations of different items do not contend.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/egannguyen/storefront/internal/entity"
	"github.com/egannguyen/storefront/internal/repository"
)

type itemRecord struct {
	mu      sync.Mutex
	item    entity.Item
	deleted bool
}

// Store keeps items, users, orders and audit events in maps.
type Store struct {
	mu         sync.RWMutex
	items      map[int64]*itemRecord
	nextItemID int64

	usersMu    sync.RWMutex
	users      map[int64]entity.User
	nextUserID int64

	ordersMu    sync.RWMutex
	orders      []entity.Order
	nextOrderID int64

	eventsMu sync.RWMutex
	events   map[string][]entity.EventStoreRecord

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		items:  make(map[int64]*itemRecord),
		users:  make(map[int64]entity.User),
		events: make(map[string][]entity.EventStoreRecord),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Items:  s.Items(),
		Users:  s.Users(),
		Orders: s.Orders(),
		Ledger: s.Ledger(),
		Events: s.Events(),
		Ping:   func(context.Context) error { return nil },
	}
}

func (s *Store) Items() repository.ItemRepository { return itemRepository{s} }
func (s *Store) Users() repository.UserRepository { return userRepository{s} }
func (s *Store) Orders() repository.OrderRepository { return orderRepository{s} }
func (s *Store) Ledger() repository.StockLedger   { return stockLedger{s} }
func (s *Store) Events() repository.EventStore     { return eventStore{s} }

// record returns the live record for id, or nil.
func (s *Store) record(id int64) *itemRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[id]
}

// snapshot copies every live item in id order.
func (s *Store) snapshot(filter entity.ItemFilter) []entity.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entity.Item, 0, len(s.items))
	for _, rec := range s.items {
		rec.mu.Lock()
		item := rec.item
		rec.mu.Unlock()
		if filter.Match(item) {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// --- Items ---

type itemRepository struct{ s *Store }

func (r itemRepository) Create(_ context.Context, item entity.Item) (entity.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextItemID++
	item.ID = r.s.nextItemID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = r.s.now()
	}
	r.s.items[item.ID] = &itemRecord{item: item}
	return item, nil
}

func (r itemRepository) FindByID(_ context.Context, id int64) (entity.Item, error) {
	rec := r.s.record(id)
	if rec == nil {
		return entity.Item{}, entity.ItemNotFound(id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return entity.Item{}, entity.ItemNotFound(id)
	}
	return rec.item, nil
}

func (r itemRepository) FindAll(_ context.Context) ([]entity.Item, error) {
	return r.s.snapshot(entity.ItemFilter{}), nil
}

func (r itemRepository) Filter(_ context.Context, filter entity.ItemFilter) ([]entity.Item, error) {
	return r.s.snapshot(filter), nil
}

func (r itemRepository) Count(_ context.Context, filter entity.ItemFilter) (int64, error) {
	return int64(len(r.s.snapshot(filter))), nil
}

func (r itemRepository) UpdateByID(_ context.Context, id int64, patch entity.ItemPatch) error {
	rec := r.s.record(id)
	if rec == nil {
		return entity.ItemNotFound(id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return entity.ItemNotFound(id)
	}
	patch.Apply(&rec.item)
	return nil
}

func (r itemRepository) UpdateAll(_ context.Context, patch entity.ItemPatch, filter entity.ItemFilter) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, rec := range r.s.items {
		rec.mu.Lock()
		if filter.Match(rec.item) {
			patch.Apply(&rec.item)
			n++
		}
		rec.mu.Unlock()
	}
	return n, nil
}

func (r itemRepository) ReplaceByID(_ context.Context, id int64, item entity.Item) error {
	rec := r.s.record(id)
	if rec == nil {
		return entity.ItemNotFound(id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return entity.ItemNotFound(id)
	}
	item.ID = id
	if item.CreatedAt.IsZero() {
		item.CreatedAt = rec.item.CreatedAt
	}
	rec.item = item
	return nil
}

func (r itemRepository) DeleteByID(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.items[id]
	if !ok {
		return entity.ItemNotFound(id)
	}
	rec.mu.Lock()
	rec.deleted = true
	rec.mu.Unlock()
	delete(r.s.items, id)
	return nil
}

// --- Users ---

type userRepository struct{ s *Store }

func (r userRepository) Create(_ context.Context, user entity.User) (entity.User, error) {
	r.s.usersMu.Lock()
	defer r.s.usersMu.Unlock()

	r.s.nextUserID++
	user.ID = r.s.nextUserID
	user.CreatedAt = r.s.now()
	r.s.users[user.ID] = user
	return user, nil
}

func (r userRepository) FindByID(_ context.Context, id int64) (entity.User, error) {
	r.s.usersMu.RLock()
	defer r.s.usersMu.RUnlock()

	user, ok := r.s.users[id]
	if !ok {
		return entity.User{}, entity.UserNotFound(id)
	}
	return user, nil
}

func (r userRepository) FindAll(_ context.Context) ([]entity.User, error) {
	r.s.usersMu.RLock()
	defer r.s.usersMu.RUnlock()

	users := make([]entity.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// --- Orders ---

type orderRepository struct{ s *Store }

func (r orderRepository) FindByID(_ context.Context, id int64) (entity.Order, error) {
	r.s.ordersMu.RLock()
	defer r.s.ordersMu.RUnlock()

	// Ids are dense and assigned in append order.
	if id <= 0 || id > int64(len(r.s.orders)) {
		return entity.Order{}, entity.OrderNotFound(id)
	}
	return r.s.orders[id-1], nil
}

func (r orderRepository) FindAll(_ context.Context) ([]entity.Order, error) {
	r.s.ordersMu.RLock()
	defer r.s.ordersMu.RUnlock()

	orders := make([]entity.Order, len(r.s.orders))
	copy(orders, r.s.orders)
	return orders, nil
}

// --- Stock ledger ---

type stockLedger struct{ s *Store }

func (l stockLedger) Reserve(_ context.Context, itemID int64, quantity int) (entity.ReservedItem, error) {
	if err := entity.ValidateQuantity(quantity); err != nil {
		return entity.ReservedItem{}, err
	}
	rec := l.s.record(itemID)
	if rec == nil {
		return entity.ReservedItem{}, entity.ItemNotFound(itemID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return reserveLocked(rec, itemID, quantity)
}

func (l stockLedger) ReserveAndRecord(_ context.Context, userID, itemID int64, quantity int) (entity.ReservedItem, entity.Order, error) {
	if err := entity.ValidateQuantity(quantity); err != nil {
		return entity.ReservedItem{}, entity.Order{}, err
	}
	rec := l.s.record(itemID)
	if rec == nil {
		return entity.ReservedItem{}, entity.Order{}, entity.ItemNotFound(itemID)
	}

	// The item lock is held across the order insert so no other reservation of
	// this item can interleave between decrement and record.
	rec.mu.Lock()
	defer rec.mu.Unlock()

	reserved, err := reserveLocked(rec, itemID, quantity)
	if err != nil {
		return entity.ReservedItem{}, entity.Order{}, err
	}

	l.s.ordersMu.Lock()
	defer l.s.ordersMu.Unlock()
	l.s.nextOrderID++
	order := entity.Order{
		ID:          l.s.nextOrderID,
		UserID:      userID,
		ItemID:      itemID,
		StockNumber: quantity,
		CreatedAt:   l.s.now(),
	}
	l.s.orders = append(l.s.orders, order)
	return reserved, order, nil
}

// reserveLocked must be called with rec.mu held.
func reserveLocked(rec *itemRecord, itemID int64, quantity int) (entity.ReservedItem, error) {
	if rec.deleted {
		return entity.ReservedItem{}, entity.ItemNotFound(itemID)
	}
	if rec.item.Stock < quantity {
		return entity.ReservedItem{}, &entity.OutOfStockError{ItemID: itemID, Requested: quantity, Available: rec.item.Stock}
	}
	prior := rec.item.Stock
	rec.item.Stock -= quantity
	return entity.ReservedItem{
		ID:        rec.item.ID,
		ItemName:  rec.item.ItemName,
		Price:     rec.item.Price,
		Stock:     prior,
		Remaining: rec.item.Stock,
	}, nil
}

// --- Event store ---

type eventStore struct{ s *Store }

func (e eventStore) SaveEvents(_ context.Context, streamID string, streamType string, expectedVersion int, events []entity.Event) error {
	if len(events) == 0 {
		return nil
	}
	e.s.eventsMu.Lock()
	defer e.s.eventsMu.Unlock()

	stream := e.s.events[streamID]
	if len(stream) != expectedVersion {
		return &entity.VersionConflictError{StreamID: streamID, Expected: expectedVersion}
	}

	now := e.s.now()
	version := expectedVersion
	for _, event := range events {
		version++
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.EventType(), err)
		}
		stream = append(stream, entity.EventStoreRecord{
			ID:         uuid.NewString(),
			StreamID:   streamID,
			StreamType: streamType,
			Version:    version,
			EventType:  event.EventType(),
			Payload:    payload,
			CreatedAt:  now,
		})
	}
	e.s.events[streamID] = stream
	return nil
}

func (e eventStore) LoadEvents(_ context.Context, streamID string) ([]entity.EventStoreRecord, error) {
	e.s.eventsMu.RLock()
	defer e.s.eventsMu.RUnlock()

	stream := e.s.events[streamID]
	records := make([]entity.EventStoreRecord, len(stream))
	copy(records, stream)
	return records, nil
}
