package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps history in process memory. It is the default backend
// for development and the store used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	limit   int
}

// NewMemoryStore returns an empty store. A non-positive limit selects
// DefaultReplayLimit.
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{limit: replayLimit(limit)}
}

func (s *MemoryStore) EnsureSchema(context.Context) error { return nil }

func (s *MemoryStore) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return persistenceError(err)
	}
	s.mu.Lock()
	s.records = append(s.records, rec.Clone())
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ReplayAll(ctx context.Context, room string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Room == room {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	if len(out) > s.limit {
		out = out[:s.limit]
	}
	return out, nil
}

// Len reports the number of stored records across all rooms.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Close(context.Context) error { return nil }
