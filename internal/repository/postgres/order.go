package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/egannguyen/storefront/internal/entity"
	"github.com/egannguyen/storefront/internal/repository"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new OrderRepository backed by Postgres.
func NewOrderRepository(db *sql.DB) repository.OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) FindByID(ctx context.Context, id int64) (entity.Order, error) {
	var o entity.Order
	err := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, item_id, stock_number, created_at FROM orders WHERE id = $1", id,
	).Scan(&o.ID, &o.UserID, &o.ItemID, &o.StockNumber, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Order{}, entity.OrderNotFound(id)
	}
	if err != nil {
		return entity.Order{}, fmt.Errorf("failed to query order %d: %w", id, err)
	}
	return o, nil
}

func (r *orderRepository) FindAll(ctx context.Context) ([]entity.Order, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, user_id, item_id, stock_number, created_at FROM orders ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []entity.Order{}
	for rows.Next() {
		var o entity.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.ItemID, &o.StockNumber, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return orders, nil
}
