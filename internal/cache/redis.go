package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/egannguyen/storefront/internal/entity"
)

const itemKeyPrefix = "storefront:item:"

// tombstone replaces an invalidated entry for invalidationGrace so that a
// read which loaded the item before the invalidation cannot cache it again.
const (
	tombstone         = "-"
	invalidationGrace = 5 * time.Second
)

// RedisItemCache stores JSON-encoded items with a TTL.
type RedisItemCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisItemCache connects to redisURL and verifies the connection.
func NewRedisItemCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisItemCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisItemCache{client: client, ttl: ttl}, nil
}

func (c *RedisItemCache) Close() error {
	return c.client.Close()
}

func itemKey(id int64) string {
	return itemKeyPrefix + strconv.FormatInt(id, 10)
}

func (c *RedisItemCache) Get(ctx context.Context, id int64) (entity.Item, bool, error) {
	data, err := c.client.Get(ctx, itemKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return entity.Item{}, false, nil
	}
	if err != nil {
		return entity.Item{}, false, fmt.Errorf("failed to get cached item %d: %w", id, err)
	}
	if string(data) == tombstone {
		return entity.Item{}, false, nil
	}

	var item entity.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return entity.Item{}, false, fmt.Errorf("failed to unmarshal cached item %d: %w", id, err)
	}
	return item, true, nil
}

func (c *RedisItemCache) Set(ctx context.Context, item entity.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item %d: %w", item.ID, err)
	}
	// SETNX leaves both live entries and tombstones in place.
	return c.client.SetNX(ctx, itemKey(item.ID), data, c.ttl).Err()
}

func (c *RedisItemCache) Invalidate(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, id := range ids {
		pipe.Set(ctx, itemKey(id), tombstone, invalidationGrace)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to invalidate cached items: %w", err)
	}
	return nil
}

func (c *RedisItemCache) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, itemKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cached items: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, key := range keys {
		pipe.Set(ctx, key, tombstone, invalidationGrace)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to flush cached items: %w", err)
	}
	return nil
}
