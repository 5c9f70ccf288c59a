package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/egannguyen/storefront/internal/entity"
	"github.com/egannguyen/storefront/internal/repository"
)

const itemColumns = "id, item_name, price, stock, created_at"

type itemRepository struct {
	db *sql.DB
}

// NewItemRepository creates a new ItemRepository backed by Postgres.
func NewItemRepository(db *sql.DB) repository.ItemRepository {
	return &itemRepository{db: db}
}

func (r *itemRepository) Create(ctx context.Context, item entity.Item) (entity.Item, error) {
	err := r.db.QueryRowContext(ctx,
		"INSERT INTO items (item_name, price, stock, created_at) VALUES ($1, $2, $3, COALESCE($4, NOW())) RETURNING id, created_at",
		item.ItemName, item.Price, item.Stock, nullTime(item.CreatedAt),
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return entity.Item{}, fmt.Errorf("failed to insert item: %w", err)
	}
	return item, nil
}

func (r *itemRepository) FindByID(ctx context.Context, id int64) (entity.Item, error) {
	var item entity.Item
	err := r.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = $1", id).
		Scan(&item.ID, &item.ItemName, &item.Price, &item.Stock, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Item{}, entity.ItemNotFound(id)
	}
	if err != nil {
		return entity.Item{}, fmt.Errorf("failed to query item %d: %w", id, err)
	}
	return item, nil
}

func (r *itemRepository) FindAll(ctx context.Context) ([]entity.Item, error) {
	return r.Filter(ctx, entity.ItemFilter{})
}

func (r *itemRepository) Filter(ctx context.Context, filter entity.ItemFilter) ([]entity.Item, error) {
	where, args := filterClause(filter, nil)
	rows, err := r.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM items"+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := []entity.Item{}
	for rows.Next() {
		var item entity.Item
		if err := rows.Scan(&item.ID, &item.ItemName, &item.Price, &item.Stock, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}
	return items, nil
}

func (r *itemRepository) Count(ctx context.Context, filter entity.ItemFilter) (int64, error) {
	where, args := filterClause(filter, nil)
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

func (r *itemRepository) UpdateByID(ctx context.Context, id int64, patch entity.ItemPatch) error {
	set, args := setClause(patch)
	args = append(args, id)
	res, err := r.db.ExecContext(ctx, fmt.Sprintf("UPDATE items SET %s WHERE id = $%d", set, len(args)), args...)
	if err != nil {
		return fmt.Errorf("failed to update item %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

func (r *itemRepository) UpdateAll(ctx context.Context, patch entity.ItemPatch, filter entity.ItemFilter) (int64, error) {
	set, args := setClause(patch)
	where, args := filterClause(filter, args)
	res, err := r.db.ExecContext(ctx, "UPDATE items SET "+set+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

func (r *itemRepository) ReplaceByID(ctx context.Context, id int64, item entity.Item) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE items SET item_name = $1, price = $2, stock = $3, created_at = COALESCE($4, created_at) WHERE id = $5",
		item.ItemName, item.Price, item.Stock, nullTime(item.CreatedAt), id,
	)
	if err != nil {
		return fmt.Errorf("failed to replace item %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

func (r *itemRepository) DeleteByID(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM items WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete item %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

// filterClause appends the filter's bind values to args and returns the matching WHERE clause.
func filterClause(filter entity.ItemFilter, args []any) (string, []any) {
	var conds []string
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	// strpos keeps % and _ in the search term literal.
	if filter.Name != "" {
		add("strpos(item_name, $%d) > 0", filter.Name)
	}
	if filter.MinPrice != nil {
		add("price >= $%d", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		add("price <= $%d", *filter.MaxPrice)
	}
	if filter.MinStock != nil {
		add("stock >= $%d", *filter.MinStock)
	}
	if filter.MaxStock != nil {
		add("stock <= $%d", *filter.MaxStock)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func setClause(patch entity.ItemPatch) (string, []any) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.ItemName != nil {
		add("item_name", *patch.ItemName)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.Stock != nil {
		add("stock", *patch.Stock)
	}
	if patch.CreatedAt != nil {
		add("created_at", *patch.CreatedAt)
	}
	return strings.Join(sets, ", "), args
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return entity.ItemNotFound(id)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
