//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/egannguyen/storefront/internal/entity"
)

func TestRedisItemCache(t *testing.T) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	c, err := NewRedisItemCache(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	item := entity.Item{ID: 4, ItemName: "Lamp", Price: decimal.RequireFromString("19.90"), Stock: 2, CreatedAt: time.Now().UTC().Truncate(time.Second)}

	_, ok, err := c.Get(ctx, item.ID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, item))
	got, ok, err := c.Get(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, item.ItemName, got.ItemName)
	require.True(t, item.Price.Equal(got.Price))
	require.True(t, item.CreatedAt.Equal(got.CreatedAt))

	require.NoError(t, c.Invalidate(ctx, item.ID))
	_, ok, err = c.Get(ctx, item.ID)
	require.NoError(t, err)
	require.False(t, ok)

	// A read that loaded the item before the invalidation must not cache it again.
	require.NoError(t, c.Set(ctx, item))
	_, ok, err = c.Get(ctx, item.ID)
	require.NoError(t, err)
	require.False(t, ok)

	fresh := entity.Item{ID: 6, ItemName: "Desk", Stock: 1}
	require.NoError(t, c.Set(ctx, fresh))
	stale := fresh
	stale.Stock = 9
	require.NoError(t, c.Set(ctx, stale))
	got, ok, err = c.Get(ctx, fresh.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, got.Stock, "Set does not overwrite a live entry")

	require.NoError(t, c.Flush(ctx))
	_, ok, err = c.Get(ctx, fresh.ID)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.Set(ctx, fresh))
	_, ok, err = c.Get(ctx, fresh.ID)
	require.NoError(t, err)
	require.False(t, ok)
}
