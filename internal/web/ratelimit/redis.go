package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window limiter shared by every process using the
// same Redis
type RedisLimiter struct {
	client *redis.Client
	config Config
	prefix string
}

// NewRedisLimiter creates a limiter storing counters under prefix
func NewRedisLimiter(client *redis.Client, config Config, prefix string) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Limit <= 0 {
		return nil, errors.New("limit must be greater than 0")
	}
	if config.Window <= 0 {
		return nil, errors.New("window must be greater than 0")
	}
	return &RedisLimiter{client: client, config: config, prefix: prefix}, nil
}

// Allow increments the counter of key, starting its window on the first attempt
func (r *RedisLimiter) Allow(ctx context.Context, key string) (*Decision, error) {
	redisKey := r.prefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	count := int(incr.Val())
	retry := ttl.Val()
	if retry < 0 {
		if err := r.client.PExpire(ctx, redisKey, r.config.Window).Err(); err != nil {
			return nil, fmt.Errorf("redis rate limit expire failed: %w", err)
		}
		retry = r.config.Window
	}

	d := &Decision{Limit: r.config.Limit, RetryAfter: retry}
	if count > r.config.Limit {
		return d, nil
	}
	d.Allowed = true
	d.Remaining = r.config.Limit - count
	return d, nil
}

// Reset removes the counter of key
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
