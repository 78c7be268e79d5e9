package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/conduit-lang/admin/internal/orm/query"
	"github.com/conduit-lang/admin/internal/orm/record"
)

// MemoryStore keeps records in process memory. It is safe for concurrent use
// and evaluates predicates with query.PredicateGroup.Match.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[int64]*record.Record
	nextID map[string]int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[int64]*record.Record),
		nextID: make(map[string]int64),
	}
}

// Find returns the matching records, ordered and windowed
func (m *MemoryStore) Find(ctx context.Context, model string, q Query) ([]*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	matched := m.match(model, q.Where)
	m.mu.RUnlock()

	sortRecords(matched, q.OrderBy)

	start := q.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	return matched[start:end], nil
}

// Count returns the number of matching records
func (m *MemoryStore) Count(ctx context.Context, model string, q Query) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.match(model, q.Where)), nil
}

// Get returns a copy of the stored record
func (m *MemoryStore) Get(ctx context.Context, model string, id int64) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.tables[model][id]
	if !ok {
		return nil, fmt.Errorf("%s %d: %w", model, id, ErrNotFound)
	}
	return rec.Clone(), nil
}

// Insert stores a copy of rec. A zero id is assigned the next free id.
func (m *MemoryStore) Insert(ctx context.Context, rec *record.Record) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	table, ok := m.tables[rec.Model]
	if !ok {
		table = make(map[int64]*record.Record)
		m.tables[rec.Model] = table
	}

	stored := rec.Clone()
	if stored.ID == 0 {
		m.nextID[rec.Model]++
		stored.ID = m.nextID[rec.Model]
	} else if _, exists := table[stored.ID]; exists {
		return nil, fmt.Errorf("%w: %s %d", ErrUniqueViolation, rec.Model, stored.ID)
	}
	if stored.ID > m.nextID[rec.Model] {
		m.nextID[rec.Model] = stored.ID
	}

	table[stored.ID] = stored
	return stored.Clone(), nil
}

// Update replaces the stored fields of rec
func (m *MemoryStore) Update(ctx context.Context, rec *record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[rec.Model][rec.ID]; !ok {
		return fmt.Errorf("%s %d: %w", rec.Model, rec.ID, ErrNotFound)
	}
	m.tables[rec.Model][rec.ID] = rec.Clone()
	return nil
}

// Delete removes a record
func (m *MemoryStore) Delete(ctx context.Context, model string, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[model][id]; !ok {
		return fmt.Errorf("%s %d: %w", model, id, ErrNotFound)
	}
	delete(m.tables[model], id)
	return nil
}

// match must be called with the read lock held
func (m *MemoryStore) match(model string, where *query.PredicateGroup) []*record.Record {
	table := m.tables[model]
	out := make([]*record.Record, 0, len(table))
	for _, rec := range table {
		if where.Match(rec.Snapshot()) {
			out = append(out, rec.Clone())
		}
	}
	// map iteration order is random; id order is the stable default
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// sortRecords applies ordering fields with a stable sort so ties keep id order.
// Nil values sort first in ascending order.
func sortRecords(recs []*record.Record, orderBy []string) {
	if len(orderBy) == 0 {
		return
	}
	sort.SliceStable(recs, func(i, j int) bool {
		for _, spec := range orderBy {
			field := strings.TrimPrefix(spec, "-")
			desc := strings.HasPrefix(spec, "-")

			a, b := recs[i].Get(field), recs[j].Get(field)
			var cmp int
			switch {
			case a == nil && b == nil:
				cmp = 0
			case a == nil:
				cmp = -1
			case b == nil:
				cmp = 1
			default:
				cmp, _ = query.Compare(a, b)
			}
			if cmp == 0 {
				continue
			}
			if desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
