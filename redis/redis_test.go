package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisLib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisLib.NewClient(&redisLib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client), mr
}

func TestCache_SetGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "ids", []uint64{1, 2, 3}, time.Minute))

	var got []uint64
	found, err := cache.Get(ctx, "ids", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []uint64{1, 2, 3}, got)

	found, err = cache.Get(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_Expiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", "v", time.Second))
	mr.FastForward(2 * time.Second)

	var got string
	found, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_Versions(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	assert.Equal(t, int64(0), cache.GetVersion(ctx, "user:1:version"))
	cache.IncrementVersion(ctx, "user:1:version")
	cache.IncrementVersion(ctx, "user:1:version")
	assert.Equal(t, int64(2), cache.GetVersion(ctx, "user:1:version"))
}

func TestCache_NilClientIsNoop(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	assert.NoError(t, cache.Set(ctx, "k", 1, time.Minute))
	var got int
	found, err := cache.Get(ctx, "k", &got)
	assert.NoError(t, err)
	assert.False(t, found)
	cache.IncrementVersion(ctx, "v")
	assert.Equal(t, int64(0), NewCache(nil).GetVersion(ctx, "v"))
}

func TestInitRedis_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := InitRedis(context.Background(), addr, zap.NewNop())
	assert.Nil(t, client)
}
