package dedup

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-node runs.
// Each key holds an immutable *Record; swaps replace the pointer.
type MemoryStore struct {
	records sync.Map // identity key -> *Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	v, ok := s.records.Load(key)
	if !ok {
		return nil, nil
	}
	r := *v.(*Record)
	return &r, nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, old *Record, next Record) (bool, error) {
	if old == nil {
		next.Version = 1
		_, loaded := s.records.LoadOrStore(next.IdentityKey, &next)
		return !loaded, nil
	}

	cur, ok := s.records.Load(next.IdentityKey)
	if !ok || cur.(*Record).Version != old.Version {
		return false, nil
	}
	next.Version = old.Version + 1
	return s.records.CompareAndSwap(next.IdentityKey, cur, &next), nil
}

// Len reports how many keys are tracked.
func (s *MemoryStore) Len() int {
	n := 0
	s.records.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
