package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps progress records in Redis so every server process can
// poll tasks started by any other. The stop flag lives under its own key so
// progress writes never clobber it.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a progress store; records expire retention after their last write
func NewRedisStore(client *redis.Client, prefix string, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) key(id uuid.UUID) string     { return s.prefix + "task:" + id.String() }
func (s *RedisStore) stopKey(id uuid.UUID) string { return s.key(id) + ":stop" }
func (s *RedisStore) indexKey() string            { return s.prefix + "tasks" }

// Create stores a new progress record and indexes it by creation time
func (s *RedisStore) Create(ctx context.Context, p *Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(p.ID), data, s.retention).Result()
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	if !ok {
		return fmt.Errorf("task %s already exists", p.ID)
	}
	return s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(p.CreatedAt.UnixNano()),
		Member: p.ID.String(),
	}).Err()
}

// Get returns a progress record with the current stop flag
func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (*Progress, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	stop, err := s.client.Exists(ctx, s.stopKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stop flag: %w", err)
	}
	p.StopRequested = stop > 0
	return &p, nil
}

// Update overwrites the record, refreshing its retention
func (s *RedisStore) Update(ctx context.Context, p *Progress) error {
	cp := *p
	cp.StopRequested = false
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	ok, err := s.client.SetXX(ctx, s.key(p.ID), data, s.retention).Result()
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, p.ID)
	}
	return nil
}

// RequestStop sets the stop flag of a running task
func (s *RedisStore) RequestStop(ctx context.Context, id uuid.UUID) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Done() {
		return nil
	}
	return s.client.Set(ctx, s.stopKey(id), "1", s.retention).Err()
}

// List returns the most recent records first, skipping expired ones
func (s *RedisStore) List(ctx context.Context, limit int) ([]*Progress, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	out := make([]*Progress, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		p, err := s.Get(ctx, id)
		if errors.Is(err, ErrTaskNotFound) {
			s.client.ZRem(ctx, s.indexKey(), raw)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
