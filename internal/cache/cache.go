// Package cache holds read-through caches for catalog reads.
// Stock served from the cache is informational; reservations always go to the store.
package cache

import (
	"context"

	"github.com/egannguyen/storefront/internal/entity"
)

// ItemCache caches items by id.
type ItemCache interface {
	Get(ctx context.Context, id int64) (entity.Item, bool, error)
	// Set stores item unless the id is already cached or was invalidated recently.
	Set(ctx context.Context, item entity.Item) error
	Invalidate(ctx context.Context, ids ...int64) error
	// Flush drops every cached item.
	Flush(ctx context.Context) error
}

// Nop is an ItemCache that never holds anything.
type Nop struct{}

func (Nop) Get(context.Context, int64) (entity.Item, bool, error) { return entity.Item{}, false, nil }
func (Nop) Set(context.Context, entity.Item) error                { return nil }
func (Nop) Invalidate(context.Context, ...int64) error            { return nil }
func (Nop) Flush(context.Context) error                           { return nil }
