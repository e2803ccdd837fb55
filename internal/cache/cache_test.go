package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client)
}

func TestGetVersionMissIsNotFound(t *testing.T) {
	c := newTestCache(t)

	_, found, err := c.GetVersion(context.Background(), "canvas-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetThenGetVersionRoundTrips(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetVersion(ctx, "canvas-1", 42))

	version, found, err := c.GetVersion(ctx, "canvas-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(42), version)
}

func TestInvalidateVersionRemovesKey(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetVersion(ctx, "canvas-1", 7))
	require.NoError(t, c.InvalidateVersion(ctx, "canvas-1"))

	_, found, err := c.GetVersion(ctx, "canvas-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestVersionsAreScopedPerCanvas(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetVersion(ctx, "canvas-1", 1))
	require.NoError(t, c.SetVersion(ctx, "canvas-2", 99))

	v1, _, err := c.GetVersion(ctx, "canvas-1")
	require.NoError(t, err)
	v2, _, err := c.GetVersion(ctx, "canvas-2")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), v1)
	assert.Equal(t, uint64(99), v2)
}
