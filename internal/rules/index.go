package rules

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/stockwatch/internal/event"
)

// Index buckets rules so evaluation only touches rules that can match.
// An Index is immutable once built.
type Index struct {
	byIdentifier map[string][]*WatchRule
	byTag        map[string][]*WatchRule
	wildcard     []*WatchRule
	size         int
}

// NewIndex builds an index over rules.
func NewIndex(rules []WatchRule) *Index {
	idx := &Index{
		byIdentifier: make(map[string][]*WatchRule),
		byTag:        make(map[string][]*WatchRule),
		size:         len(rules),
	}
	for i := range rules {
		r := &rules[i]
		if r.Wildcard() {
			idx.wildcard = append(idx.wildcard, r)
			continue
		}
		for _, id := range r.Identifiers {
			idx.byIdentifier[id] = append(idx.byIdentifier[id], r)
		}
		for _, t := range r.Tags {
			idx.byTag[t] = append(idx.byTag[t], r)
		}
	}
	return idx
}

// Len returns the number of indexed rules.
func (idx *Index) Len() int { return idx.size }

// Candidates returns the rules that could match ev, each at most once.
func (idx *Index) Candidates(ev *event.InventoryEvent) []*WatchRule {
	seen := make(map[string]struct{})
	var out []*WatchRule
	add := func(rs []*WatchRule) {
		for _, r := range rs {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	for _, k := range eventKeys(ev) {
		add(idx.byIdentifier[k])
	}
	for _, t := range ev.Tags {
		add(idx.byTag[t])
	}
	add(idx.wildcard)
	return out
}

// Engine evaluates events against the current rule snapshot.
type Engine struct {
	snapshot atomic.Pointer[Index]
	logger   *slog.Logger
}

// NewEngine creates an Engine with an empty snapshot.
func NewEngine(logger *slog.Logger) *Engine {
	e := &Engine{logger: logger}
	e.snapshot.Store(NewIndex(nil))
	return e
}

// Load swaps in a new snapshot built from rules.
func (e *Engine) Load(rules []WatchRule) {
	e.snapshot.Store(NewIndex(rules))
	e.logger.Info("Watch rules loaded", "rules", len(rules))
}

// Len returns the number of rules in the current snapshot.
func (e *Engine) Len() int { return e.snapshot.Load().Len() }

// Evaluate returns one Decision per matching rule. The whole evaluation
// reads a single snapshot.
func (e *Engine) Evaluate(ev event.InventoryEvent, now time.Time) []Decision {
	idx := e.snapshot.Load()

	var out []Decision
	for _, r := range idx.Candidates(&ev) {
		if !Matches(r, &ev) {
			continue
		}
		out = append(out, Decision{
			ID:        uuid.NewString(),
			RuleID:    r.ID,
			Owner:     r.Owner,
			Action:    r.Action,
			Event:     ev,
			CreatedAt: now,
		})
	}
	return out
}
