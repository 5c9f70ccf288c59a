package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/egannguyen/storefront/internal/entity"
	"github.com/egannguyen/storefront/internal/repository"
)

// The check and the decrement are one statement, so the row lock taken by
// UPDATE serializes concurrent reservations of the same item.
// $1 is bigint so an oversized quantity fails the WHERE clause instead of overflowing.
const reserveStockQuery = `
	UPDATE items SET stock = stock - $1::bigint
	WHERE id = $2 AND stock >= $1::bigint
	RETURNING id, item_name, price, stock + $1::bigint, stock`

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type stockLedger struct {
	db *sql.DB
}

// NewStockLedger creates a StockLedger that decrements stock with a conditional UPDATE.
func NewStockLedger(db *sql.DB) repository.StockLedger {
	return &stockLedger{db: db}
}

func (l *stockLedger) Reserve(ctx context.Context, itemID int64, quantity int) (entity.ReservedItem, error) {
	if err := entity.ValidateQuantity(quantity); err != nil {
		return entity.ReservedItem{}, err
	}
	return reserve(ctx, l.db, itemID, quantity)
}

func (l *stockLedger) ReserveAndRecord(ctx context.Context, userID, itemID int64, quantity int) (entity.ReservedItem, entity.Order, error) {
	if err := entity.ValidateQuantity(quantity); err != nil {
		return entity.ReservedItem{}, entity.Order{}, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return entity.ReservedItem{}, entity.Order{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	reserved, err := reserve(ctx, tx, itemID, quantity)
	if err != nil {
		return entity.ReservedItem{}, entity.Order{}, err
	}

	order := entity.Order{UserID: userID, ItemID: itemID, StockNumber: quantity}
	err = tx.QueryRowContext(ctx,
		"INSERT INTO orders (user_id, item_id, stock_number) VALUES ($1, $2, $3) RETURNING id, created_at",
		userID, itemID, quantity,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return entity.ReservedItem{}, entity.Order{}, fmt.Errorf("failed to insert order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return entity.ReservedItem{}, entity.Order{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return reserved, order, nil
}

func reserve(ctx context.Context, q rowQuerier, itemID int64, quantity int) (entity.ReservedItem, error) {
	var r entity.ReservedItem
	err := q.QueryRowContext(ctx, reserveStockQuery, quantity, itemID).
		Scan(&r.ID, &r.ItemName, &r.Price, &r.Stock, &r.Remaining)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return entity.ReservedItem{}, fmt.Errorf("failed to update stock for item %d: %w", itemID, err)
	}

	// No row updated: either the item is gone or it has too little stock.
	var available int
	err = q.QueryRowContext(ctx, "SELECT stock FROM items WHERE id = $1", itemID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.ReservedItem{}, entity.ItemNotFound(itemID)
	}
	if err != nil {
		return entity.ReservedItem{}, fmt.Errorf("failed to read stock for item %d: %w", itemID, err)
	}
	return entity.ReservedItem{}, &entity.OutOfStockError{ItemID: itemID, Requested: quantity, Available: available}
}
