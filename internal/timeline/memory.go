package timeline

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryStore keeps releases in process. Each id holds an immutable
// *Release; swaps replace the pointer, so writers to different releases
// never contend.
type MemoryStore struct {
	releases sync.Map // id -> *Release
	seq      atomic.Int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Release, error) {
	v, ok := s.releases.Load(id)
	if !ok {
		return nil, nil
	}
	out := v.(*Release).Clone()
	return &out, nil
}

// List returns every release in discovery order.
func (s *MemoryStore) List(_ context.Context) ([]Release, error) {
	var out []Release
	s.releases.Range(func(_, v any) bool {
		out = append(out, v.(*Release).Clone())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DiscoverySeq < out[j].DiscoverySeq })
	return out, nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, old *Release, next Release) (bool, error) {
	if old == nil {
		if _, exists := s.releases.Load(next.ID); exists {
			return false, nil
		}
		next.Version = 1
		next.DiscoverySeq = s.seq.Add(1)
		stored := next.Clone()
		_, loaded := s.releases.LoadOrStore(next.ID, &stored)
		return !loaded, nil
	}

	cur, ok := s.releases.Load(next.ID)
	if !ok || cur.(*Release).Version != old.Version {
		return false, nil
	}
	next.DiscoverySeq = cur.(*Release).DiscoverySeq
	next.Version = old.Version + 1
	stored := next.Clone()
	return s.releases.CompareAndSwap(next.ID, cur, &stored), nil
}
