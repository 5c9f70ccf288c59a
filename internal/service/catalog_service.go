package service

import (
	"context"
	"log/slog"

	"github.com/egannguyen/storefront/internal/cache"
	"github.com/egannguyen/storefront/internal/entity"
	"github.com/egannguyen/storefront/internal/repository"
)

// CatalogService is the CRUD surface for items and users.
// Item writes here go straight to the repository and do not pass through the stock ledger.
type CatalogService struct {
	items     repository.ItemRepository
	users     repository.UserRepository
	itemCache cache.ItemCache
}

func NewCatalogService(items repository.ItemRepository, users repository.UserRepository, itemCache cache.ItemCache) *CatalogService {
	return &CatalogService{items: items, users: users, itemCache: itemCache}
}

func (s *CatalogService) CreateItem(ctx context.Context, item entity.Item) (entity.Item, error) {
	if err := item.Validate(); err != nil {
		return entity.Item{}, err
	}
	return s.items.Create(ctx, item)
}

// GetItem reads through the item cache.
func (s *CatalogService) GetItem(ctx context.Context, id int64) (entity.Item, error) {
	cached, ok, err := s.itemCache.Get(ctx, id)
	if err != nil {
		slog.WarnContext(ctx, "Item cache read failed", "item_id", id, "err", err)
	}
	if ok {
		return cached, nil
	}

	item, err := s.items.FindByID(ctx, id)
	if err != nil {
		return entity.Item{}, err
	}
	if err := s.itemCache.Set(ctx, item); err != nil {
		slog.WarnContext(ctx, "Item cache write failed", "item_id", id, "err", err)
	}
	return item, nil
}

func (s *CatalogService) ListItems(ctx context.Context) ([]entity.Item, error) {
	return s.items.FindAll(ctx)
}

func (s *CatalogService) FilterItems(ctx context.Context, filter entity.ItemFilter) ([]entity.Item, error) {
	return s.items.Filter(ctx, filter)
}

func (s *CatalogService) CountItems(ctx context.Context, filter entity.ItemFilter) (int64, error) {
	return s.items.Count(ctx, filter)
}

func (s *CatalogService) UpdateItem(ctx context.Context, id int64, patch entity.ItemPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	if err := s.items.UpdateByID(ctx, id, patch); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// UpdateItems patches every item matching filter and returns how many changed.
func (s *CatalogService) UpdateItems(ctx context.Context, patch entity.ItemPatch, filter entity.ItemFilter) (int64, error) {
	if err := patch.Validate(); err != nil {
		return 0, err
	}
	n, err := s.items.UpdateAll(ctx, patch, filter)
	if err != nil {
		return 0, err
	}
	if err := s.itemCache.Flush(ctx); err != nil {
		slog.WarnContext(ctx, "Item cache flush failed", "err", err)
	}
	return n, nil
}

func (s *CatalogService) ReplaceItem(ctx context.Context, id int64, item entity.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if err := s.items.ReplaceByID(ctx, id, item); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *CatalogService) DeleteItem(ctx context.Context, id int64) error {
	if err := s.items.DeleteByID(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *CatalogService) CreateUser(ctx context.Context, user entity.User) (entity.User, error) {
	if err := user.Validate(); err != nil {
		return entity.User{}, err
	}
	return s.users.Create(ctx, user)
}

func (s *CatalogService) ListUsers(ctx context.Context) ([]entity.User, error) {
	return s.users.FindAll(ctx)
}

func (s *CatalogService) invalidate(ctx context.Context, id int64) {
	if err := s.itemCache.Invalidate(ctx, id); err != nil {
		slog.WarnContext(ctx, "Item cache invalidation failed", "item_id", id, "err", err)
	}
}
