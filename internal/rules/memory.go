package rules

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps rules in process.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]WatchRule
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[string]WatchRule)}
}

func (s *MemoryStore) List(_ context.Context) ([]WatchRule, error) {
	s.mu.RLock()
	out := make([]WatchRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, r WatchRule) error {
	s.mu.Lock()
	s.rules[r.ID] = r
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return false, nil
	}
	delete(s.rules, id)
	return true, nil
}
