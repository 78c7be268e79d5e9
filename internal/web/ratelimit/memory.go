package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryLimiter is a fixed-window limiter held in process memory
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	config  Config
	now     func() time.Time
	cleanup *time.Ticker
	done    chan struct{}
}

// window is the attempt count of one key
type window struct {
	attempts int
	resetAt  time.Time
}

// NewMemoryLimiter creates a limiter; expired windows are swept every
// cleanupInterval when it is positive
func NewMemoryLimiter(config Config, cleanupInterval time.Duration) (*MemoryLimiter, error) {
	if config.Limit <= 0 {
		return nil, errors.New("limit must be greater than 0")
	}
	if config.Window <= 0 {
		return nil, errors.New("window must be greater than 0")
	}

	m := &MemoryLimiter{
		windows: make(map[string]*window),
		config:  config,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		m.cleanup = time.NewTicker(cleanupInterval)
		go m.cleanupLoop()
	}
	return m, nil
}

// Allow records an attempt for key
func (m *MemoryLimiter) Allow(ctx context.Context, key string) (*Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(m.config.Window)}
		m.windows[key] = w
	}

	d := &Decision{Limit: m.config.Limit, RetryAfter: w.resetAt.Sub(now)}
	if w.attempts >= m.config.Limit {
		return d, nil
	}
	w.attempts++
	d.Allowed = true
	d.Remaining = m.config.Limit - w.attempts
	return d, nil
}

// Reset forgets key
func (m *MemoryLimiter) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, key)
	return nil
}

// cleanupLoop removes expired windows
func (m *MemoryLimiter) cleanupLoop() {
	for {
		select {
		case <-m.cleanup.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryLimiter) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
		}
	}
}

// Close stops the cleanup goroutine
func (m *MemoryLimiter) Close() error {
	close(m.done)
	if m.cleanup != nil {
		m.cleanup.Stop()
	}
	return nil
}
