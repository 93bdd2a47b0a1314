package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/knotgate/internal/core/ports"
)

// Store is an in-memory implementation of ContextStore. Records are kept until
// the process exits; a positive limit bounds the number kept, oldest evicted first.
type Store struct {
	mu      sync.RWMutex
	records map[string]*ports.ContextRecord
	order   []string // insertion order, oldest first
	max     int
}

var _ ports.ContextStore = (*Store)(nil)

// New creates a new in-memory store. maxRecords <= 0 keeps every record.
func New(maxRecords int) *Store {
	return &Store{
		records: make(map[string]*ports.ContextRecord),
		max:     maxRecords,
	}
}

func (s *Store) Save(ctx context.Context, rec *ports.ContextRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *rec
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	if _, exists := s.records[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = &stored

	for s.max > 0 && len(s.order) > s.max {
		delete(s.records, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*ports.ContextRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, fmt.Errorf("context %s: %w", id, ports.ErrNotFound)
	}

	out := *rec
	return &out, nil
}

func (s *Store) List(ctx context.Context, opts ports.ListOptions) ([]*ports.ContextRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ports.ContextRecord, 0, len(s.records))
	for _, rec := range s.records {
		if opts.FailedOnly && !rec.Failed {
			continue
		}
		out := *rec
		result = append(result, &out)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (s *Store) Close() error {
	return nil
}
