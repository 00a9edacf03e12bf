package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"
)

type status int

const (
	statusPending status = iota
	statusSending
	statusSent
	statusDropped
)

type memoryEntry struct {
	env       Envelope
	status    status
	updatedAt time.Time
}

// MemoryOutbox is an in-process Outbox for tests and single-node runs.
type MemoryOutbox struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryOutbox creates an empty MemoryOutbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{entries: make(map[string]*memoryEntry)}
}

func (o *MemoryOutbox) Enqueue(_ context.Context, env Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.entries[env.ID]; ok {
		return nil
	}
	o.entries[env.ID] = &memoryEntry{env: env, updatedAt: env.CreatedAt}
	return nil
}

func (o *MemoryOutbox) ClaimDue(_ context.Context, now time.Time, limit int) ([]Envelope, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var due []*memoryEntry
	for _, e := range o.entries {
		if e.status == statusPending && !e.env.NextAttemptAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].env.NextAttemptAt.Before(due[j].env.NextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]Envelope, len(due))
	for i, e := range due {
		e.status = statusSending
		out[i] = e.env
	}
	return out, nil
}

func (o *MemoryOutbox) MarkSent(_ context.Context, id string) error {
	return o.set(id, func(e *memoryEntry) { e.status = statusSent })
}

func (o *MemoryOutbox) MarkRetry(_ context.Context, id string, attempts int, next time.Time, lastErr string) error {
	return o.set(id, func(e *memoryEntry) {
		e.status = statusPending
		e.env.Attempts = attempts
		e.env.NextAttemptAt = next
		e.env.LastError = lastErr
	})
}

func (o *MemoryOutbox) MarkDropped(_ context.Context, id string, attempts int, lastErr string) error {
	return o.set(id, func(e *memoryEntry) {
		e.status = statusDropped
		e.env.Attempts = attempts
		e.env.LastError = lastErr
	})
}

func (o *MemoryOutbox) Cleanup(_ context.Context, before time.Time) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var n int64
	for id, e := range o.entries {
		if (e.status == statusSent || e.status == statusDropped) && e.updatedAt.Before(before) {
			delete(o.entries, id)
			n++
		}
	}
	return n, nil
}

// Pending returns the envelopes not yet sent or dropped.
func (o *MemoryOutbox) Pending() []Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Envelope
	for _, e := range o.entries {
		if e.status == statusPending || e.status == statusSending {
			out = append(out, e.env)
		}
	}
	return out
}

func (o *MemoryOutbox) set(id string, f func(*memoryEntry)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entries[id]; ok {
		f(e)
		e.updatedAt = time.Now()
	}
	return nil
}
