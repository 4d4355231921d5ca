package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, DefaultTTL, nil), mr
}

func TestRedisCache_GetSet(t *testing.T) {
	ctx := context.Background()
	cache, mr := setupRedisCache(t)

	_, ok := cache.Get(ctx, PermOrgAdmin)
	assert.False(t, ok)

	cache.Set(ctx, PermOrgAdmin, true)
	cache.Set(ctx, "nope", false)

	exists, ok := cache.Get(ctx, PermOrgAdmin)
	assert.True(t, ok)
	assert.True(t, exists)

	exists, ok = cache.Get(ctx, "nope")
	assert.True(t, ok)
	assert.False(t, exists)

	assert.Equal(t, DefaultTTL, mr.TTL(redisKeyPrefix+PermOrgAdmin))
}

func TestRedisCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache, mr := setupRedisCache(t)

	cache.Set(ctx, PermAuditRead, true)
	mr.FastForward(DefaultTTL + time.Second)

	_, ok := cache.Get(ctx, PermAuditRead)
	assert.False(t, ok)
}

func TestRedisCache_InvalidateAndPurge(t *testing.T) {
	ctx := context.Background()
	cache, mr := setupRedisCache(t)

	cache.Set(ctx, "a", true)
	cache.Set(ctx, "b", true)
	require.NoError(t, mr.Set("unrelated", "keep"))

	cache.Invalidate(ctx, "a")
	_, ok := cache.Get(ctx, "a")
	assert.False(t, ok)

	cache.Purge(ctx)
	_, ok = cache.Get(ctx, "b")
	assert.False(t, ok)
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisCache_UnavailableIsAMiss(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	logger, hook := test.NewNullLogger()
	cache := NewRedisCache(client, 0, logger)
	mr.Close()

	_, ok := cache.Get(ctx, PermOrgAdmin)
	assert.False(t, ok)
	assert.NotEmpty(t, hook.AllEntries())
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not-a-url", "")
	assert.Error(t, err)
}
