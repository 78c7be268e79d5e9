package ratelimit

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewLimiters_InvalidConfig(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectedErr string
	}{
		{"zero limit", Config{Limit: 0, Window: time.Minute}, "limit must be greater than 0"},
		{"negative limit", Config{Limit: -1, Window: time.Minute}, "limit must be greater than 0"},
		{"zero window", Config{Limit: 3, Window: 0}, "window must be greater than 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMemoryLimiter(tt.config, 0)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)

			_, err = NewRedisLimiter(&redis.Client{}, tt.config, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}

	_, err := NewRedisLimiter(nil, DefaultConfig(), "")
	assert.EqualError(t, err, "redis client is required")
}

func TestMemoryLimiter_Window(t *testing.T) {
	m, err := NewMemoryLimiter(Config{Limit: 3, Window: time.Minute}, 0)
	require.NoError(t, err)
	defer m.Close()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 2; i >= 0; i-- {
		d, err := m.Allow(ctx, "login:1.2.3.4:ed")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, i, d.Remaining)
	}

	now = now.Add(20 * time.Second)
	d, err := m.Allow(ctx, "login:1.2.3.4:ed")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 40*time.Second, d.RetryAfter)
	assert.Equal(t, "40", d.RetryAfterHeader())

	// other keys are unaffected
	d, err = m.Allow(ctx, "login:1.2.3.4:ann")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	now = now.Add(40 * time.Second)
	d, err = m.Allow(ctx, "login:1.2.3.4:ed")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestMemoryLimiter_ResetAndSweep(t *testing.T) {
	m, err := NewMemoryLimiter(Config{Limit: 1, Window: time.Minute}, 0)
	require.NoError(t, err)
	defer m.Close()

	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = m.Allow(ctx, "a")
	d, _ := m.Allow(ctx, "a")
	assert.False(t, d.Allowed)

	require.NoError(t, m.Reset(ctx, "a"))
	d, _ = m.Allow(ctx, "a")
	assert.True(t, d.Allowed)

	_, _ = m.Allow(ctx, "b")
	now = now.Add(2 * time.Minute)
	m.sweep()
	m.mu.Lock()
	assert.Empty(t, m.windows)
	m.mu.Unlock()
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	m, err := NewMemoryLimiter(Config{Limit: 100, Window: time.Minute}, 0)
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	allowed := make(chan bool, 150)

	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := m.Allow(ctx, "key")
			if err == nil {
				allowed <- d.Allowed
			}
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for a := range allowed {
		if a {
			count++
		}
	}
	assert.Equal(t, 100, count)
}

func TestRedisLimiter_Window(t *testing.T) {
	client, mr := setupTestRedis(t)
	r, err := NewRedisLimiter(client, Config{Limit: 2, Window: time.Minute}, "throttle:")
	require.NoError(t, err)
	ctx := context.Background()

	d, err := r.Allow(ctx, "login:ed")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)
	assert.Equal(t, time.Minute, mr.TTL("throttle:login:ed"))

	d, err = r.Allow(ctx, "login:ed")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = r.Allow(ctx, "login:ed")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	mr.FastForward(time.Minute + time.Second)
	d, err = r.Allow(ctx, "login:ed")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	require.NoError(t, r.Reset(ctx, "login:ed"))
	assert.False(t, mr.Exists("throttle:login:ed"))
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	r, err := NewRedisLimiter(client, DefaultConfig(), "")
	require.NoError(t, err)

	_, err = r.Allow(context.Background(), "k")
	assert.ErrorContains(t, err, "redis rate limit check failed")
}

func TestLoginKey(t *testing.T) {
	r := httptest.NewRequest("POST", "/_auth/token", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "login:10.0.0.7:ed", LoginKey(r, "Ed"))

	r.RemoteAddr = "pipe"
	assert.Equal(t, "login:pipe:ed", LoginKey(r, "ed"))
}

func TestDecision_RetryAfterHeader(t *testing.T) {
	assert.Equal(t, "1", (&Decision{}).RetryAfterHeader())
	assert.Equal(t, "2", (&Decision{RetryAfter: 1500 * time.Millisecond}).RetryAfterHeader())
}
