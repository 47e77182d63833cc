package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*Record),
	}
}

// Create stores a new record.
func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	c, err := cloneRecord(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[c.ID]; exists {
		return fmt.Errorf("record already exists: %s", c.ID)
	}
	s.items[c.ID] = c
	return nil
}

// CreateBatch stores records one by one, stopping at the first error.
func (s *MemoryStore) CreateBatch(ctx context.Context, recs []*Record) error {
	for _, rec := range recs {
		if err := s.Create(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves one record by id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	r, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(r)
}

// List returns records ordered by created_at desc, id desc.
func (s *MemoryStore) List(_ context.Context, limit int, after string) ([]*Record, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	all := make([]*Record, 0, len(s.items))
	for _, r := range s.items {
		all = append(all, r)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	start := 0
	if after != "" {
		idx := -1
		for i := range all {
			if all[i].ID == after {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil, ErrNotFound
		}
		start = idx + 1
	}

	end := min(start+limit, len(all))
	out := make([]*Record, 0, end-start)
	for _, r := range all[start:end] {
		c, err := cloneRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
