package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProgressStore persists task progress
type ProgressStore interface {
	// Create stores a new progress record
	Create(ctx context.Context, p *Progress) error
	// Get returns a copy of a progress record or ErrTaskNotFound
	Get(ctx context.Context, id uuid.UUID) (*Progress, error)
	// Update writes every field of p except StopRequested
	Update(ctx context.Context, p *Progress) error
	// RequestStop sets the stop flag of a running task
	RequestStop(ctx context.Context, id uuid.UUID) error
	// List returns the most recent records first
	List(ctx context.Context, limit int) ([]*Progress, error)
}

// DefaultRetention is how long finished records are kept when no retention is given
const DefaultRetention = 24 * time.Hour

// MemoryStore keeps progress records in process memory. Finished records
// older than the retention are dropped when a new record is created.
type MemoryStore struct {
	mu        sync.RWMutex
	tasks     map[uuid.UUID]*Progress
	retention time.Duration
}

// NewMemoryStore creates an empty in-memory progress store
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{tasks: make(map[uuid.UUID]*Progress), retention: retention}
}

// Create stores a new progress record
func (s *MemoryStore) Create(_ context.Context, p *Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[p.ID]; exists {
		return fmt.Errorf("task %s already exists", p.ID)
	}
	s.prune(time.Now().UTC().Add(-s.retention))
	cp := *p
	s.tasks[p.ID] = &cp
	return nil
}

// prune drops records that finished before cutoff; callers hold the lock
func (s *MemoryStore) prune(cutoff time.Time) {
	for id, p := range s.tasks {
		if p.FinishedAt != nil && p.FinishedAt.Before(cutoff) {
			delete(s.tasks, id)
		}
	}
}

// Get returns a copy of a progress record
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	cp := *p
	return &cp, nil
}

// Update writes p, keeping the stored stop flag
func (s *MemoryStore) Update(_ context.Context, p *Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[p.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, p.ID)
	}
	cp := *p
	cp.StopRequested = current.StopRequested
	s.tasks[p.ID] = &cp
	return nil
}

// RequestStop sets the stop flag of a running task
func (s *MemoryStore) RequestStop(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !p.Done() {
		p.StopRequested = true
	}
	return nil
}

// List returns the most recent records first
func (s *MemoryStore) List(_ context.Context, limit int) ([]*Progress, error) {
	s.mu.RLock()
	out := make([]*Progress, 0, len(s.tasks))
	for _, p := range s.tasks {
		cp := *p
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
