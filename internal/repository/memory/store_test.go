package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egannguyen/storefront/internal/entity"
)

func seedItem(t *testing.T, s *Store, name string, price string, stock int) entity.Item {
	t.Helper()
	item, err := s.Items().Create(context.Background(), entity.Item{
		ItemName: name,
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
	})
	require.NoError(t, err)
	return item
}

func TestReserveDecrementsAndReturnsPriorSnapshot(t *testing.T) {
	s := NewStore()
	item := seedItem(t, s, "Keyboard", "179.99", 10)

	reserved, err := s.Ledger().Reserve(context.Background(), item.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, "Keyboard", reserved.ItemName)
	assert.Equal(t, 10, reserved.Stock)
	assert.Equal(t, 6, reserved.Remaining)

	got, err := s.Items().FindByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Stock)
}

func TestReserveErrors(t *testing.T) {
	s := NewStore()
	item := seedItem(t, s, "Lamp", "89.99", 3)
	ctx := context.Background()

	_, err := s.Ledger().Reserve(ctx, item.ID, 0)
	assert.ErrorIs(t, err, entity.ErrInvalidInput)

	_, err = s.Ledger().Reserve(ctx, item.ID, -2)
	assert.ErrorIs(t, err, entity.ErrInvalidInput)

	_, err = s.Ledger().Reserve(ctx, 999, 1)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	_, err = s.Ledger().Reserve(ctx, item.ID, 3_000_000_000)
	assert.ErrorIs(t, err, entity.ErrOutOfStock)

	_, err = s.Ledger().Reserve(ctx, item.ID, 4)
	var oos *entity.OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, 4, oos.Requested)
	assert.Equal(t, 3, oos.Available)

	got, err := s.Items().FindByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock, "a failed reservation must leave stock unchanged")
}

func TestConcurrentReservationsNeverOvercommit(t *testing.T) {
	s := NewStore()
	const initial = 100
	item := seedItem(t, s, "Chair", "549.99", initial)

	var (
		wg       sync.WaitGroup
		reserved atomic.Int64
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(q int) {
			defer wg.Done()
			_, err := s.Ledger().Reserve(context.Background(), item.ID, q)
			if err == nil {
				reserved.Add(int64(q))
				return
			}
			if !errors.Is(err, entity.ErrOutOfStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i%7 + 1)
	}
	wg.Wait()

	got, err := s.Items().FindByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.Stock, 0)
	assert.LessOrEqual(t, reserved.Load(), int64(initial))
	assert.Equal(t, int64(initial)-reserved.Load(), int64(got.Stock))
}

func TestTwoConcurrentReservationsOnlyOneWins(t *testing.T) {
	s := NewStore()
	item := seedItem(t, s, "Monitor", "699.99", 10)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = s.Ledger().ReserveAndRecord(context.Background(), 1, item.ID, 6)
		}(i)
	}
	wg.Wait()

	var ok, failed int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var oos *entity.OutOfStockError
		require.ErrorAs(t, err, &oos)
		assert.Equal(t, 6, oos.Requested)
		assert.Equal(t, 4, oos.Available)
		failed++
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, failed)

	got, err := s.Items().FindByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)

	orders, err := s.Orders().FindAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestReserveAndRecordCreatesOrder(t *testing.T) {
	s := NewStore()
	item := seedItem(t, s, "Backpack", "129.99", 3)

	reserved, order, err := s.Ledger().ReserveAndRecord(context.Background(), 5, item.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, reserved.Remaining)
	assert.Equal(t, int64(5), order.UserID)
	assert.Equal(t, item.ID, order.ItemID)
	assert.Equal(t, 3, order.StockNumber)
	assert.NotZero(t, order.ID)

	found, err := s.Orders().FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order, found)
}

func TestReserveDeletedItem(t *testing.T) {
	s := NewStore()
	item := seedItem(t, s, "Headphones", "349.99", 5)
	require.NoError(t, s.Items().DeleteByID(context.Background(), item.ID))

	_, err := s.Ledger().Reserve(context.Background(), item.ID, 1)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestItemCRUDAndFilter(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	kb := seedItem(t, s, "Mechanical Keyboard", "179.99", 120)
	seedItem(t, s, "Keyboard Cover", "9.50", 0)
	seedItem(t, s, "Desk Lamp", "89.99", 200)

	minPrice := decimal.RequireFromString("10")
	minStock := 1
	items, err := s.Items().Filter(ctx, entity.ItemFilter{Name: "Keyboard", MinPrice: &minPrice, MinStock: &minStock})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, kb.ID, items[0].ID)

	count, err := s.Items().Count(ctx, entity.ItemFilter{Name: "Keyboard"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	stock := 7
	require.NoError(t, s.Items().UpdateByID(ctx, kb.ID, entity.ItemPatch{Stock: &stock}))
	got, err := s.Items().FindByID(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Stock)
	assert.Equal(t, "Mechanical Keyboard", got.ItemName)

	zero := 0
	n, err := s.Items().UpdateAll(ctx, entity.ItemPatch{Stock: &zero}, entity.ItemFilter{Name: "Lamp"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.Items().ReplaceByID(ctx, kb.ID, entity.Item{ItemName: "TKL Keyboard", Price: decimal.NewFromInt(150), Stock: 2}))
	got, err = s.Items().FindByID(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, "TKL Keyboard", got.ItemName)
	assert.Equal(t, kb.CreatedAt, got.CreatedAt)

	require.NoError(t, s.Items().DeleteByID(ctx, kb.ID))
	_, err = s.Items().FindByID(ctx, kb.ID)
	assert.ErrorIs(t, err, entity.ErrNotFound)
	assert.ErrorIs(t, s.Items().DeleteByID(ctx, kb.ID), entity.ErrNotFound)
}

func TestEventStoreVersioning(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	event := entity.OrderCreated{OrderID: 1, UserID: 2, ItemID: 3, Quantity: 1}

	require.NoError(t, s.Events().SaveEvents(ctx, "1", "order", 0, []entity.Event{event}))
	err := s.Events().SaveEvents(ctx, "1", "order", 0, []entity.Event{event})
	assert.ErrorIs(t, err, entity.ErrVersionConflict)
	assert.ErrorIs(t, s.Events().SaveEvents(ctx, "1", "order", 5, []entity.Event{event}), entity.ErrVersionConflict)

	records, err := s.Events().LoadEvents(ctx, "1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Version)
	assert.Equal(t, "OrderCreated", records[0].EventType)
	assert.JSONEq(t, `{"order_id":1,"user_id":2,"item_id":3,"item_name":"","quantity":1,"remaining":0,"created_at":"0001-01-01T00:00:00Z"}`, string(records[0].Payload))
}
