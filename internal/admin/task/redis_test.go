package task

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "admin:", time.Hour), mr
}

func TestRedisStore_Lifecycle(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	p := NewProgress("reindex")
	require.NoError(t, store.Create(ctx, p))
	assert.True(t, mr.Exists("admin:task:"+p.ID.String()))
	assert.Error(t, store.Create(ctx, p))

	require.NoError(t, store.RequestStop(ctx, p.ID))
	p.Partial, p.Total = 1, 2
	require.NoError(t, store.Update(ctx, p))

	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Partial)
	assert.True(t, got.StopRequested, "update keeps the stop flag")
	assert.Equal(t, time.Hour, mr.TTL("admin:task:"+p.ID.String()))
}

func TestRedisStore_NotFound(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	p := NewProgress("ghost")

	_, err := store.Get(ctx, p.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, store.Update(ctx, p), ErrTaskNotFound)
	assert.ErrorIs(t, store.RequestStop(ctx, p.ID), ErrTaskNotFound)
}

func TestRedisStore_ListSkipsExpired(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	old := NewProgress("old")
	old.CreatedAt = old.CreatedAt.Add(-time.Minute)
	require.NoError(t, store.Create(ctx, old))
	recent := NewProgress("recent")
	require.NoError(t, store.Create(ctx, recent))

	list, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "recent", list[0].Name)

	mr.Del("admin:task:" + old.ID.String())
	list, err = store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRunner_WithRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	runner := NewRunner(store, zap.NewNop())
	ctx := context.Background()

	p, err := runner.Start(ctx, "count", func(ctx context.Context, rep *Reporter) error {
		return rep.Report(ctx, 5, 10, "halfway")
	})
	require.NoError(t, err)
	runner.Wait()

	got, err := runner.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 10, got.Partial)
	assert.Equal(t, "halfway", got.Message)
}
