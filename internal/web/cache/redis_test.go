package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisCacheWithClient(client, DefaultConfig()), mr
}

func TestNewRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cache, err := NewRedisCache(context.Background(), RedisConfig{Addr: mr.Addr(), Config: DefaultConfig()})
	require.NoError(t, err)
	defer cache.Close()
	assert.NotNil(t, cache.Client())
}

func TestNewRedisCache_ConnectionError(t *testing.T) {
	_, err := NewRedisCache(context.Background(), RedisConfig{Addr: "localhost:99999", Config: DefaultConfig()})
	assert.Error(t, err)
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("admin:k"))

	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, cache.Delete(ctx, "k"))
	_, err = cache.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestRedisCache_TTL(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "short", []byte("v"), time.Second))
	require.NoError(t, cache.Set(ctx, "default", []byte("v"), 0))
	require.NoError(t, cache.Set(ctx, "forever", []byte("v"), -1))

	assert.Equal(t, 5*time.Minute, mr.TTL("admin:default"))
	assert.Equal(t, time.Duration(0), mr.TTL("admin:forever"))

	mr.FastForward(2 * time.Second)
	ok, err := cache.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_ClearAndForget(t *testing.T) {
	cache, mr := setupTestRedis(t)
	defer mr.Close()
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, SlotKey("user:1", "a/1/x"), []byte("1"), time.Minute))
	require.NoError(t, cache.Set(ctx, SlotKey("user:2", "a/1/x"), []byte("2"), time.Minute))
	require.NoError(t, mr.Set("other:key", "kept"))

	require.NoError(t, Forget(ctx, cache, "user:1"))
	ok, _ := cache.Exists(ctx, SlotKey("user:1", "a/1/x"))
	assert.False(t, ok)
	ok, _ = cache.Exists(ctx, SlotKey("user:2", "a/1/x"))
	assert.True(t, ok)

	require.NoError(t, cache.Clear(ctx))
	ok, _ = cache.Exists(ctx, SlotKey("user:2", "a/1/x"))
	assert.False(t, ok)
	assert.True(t, mr.Exists("other:key"))
}
