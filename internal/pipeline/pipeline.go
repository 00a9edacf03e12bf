// Package pipeline runs the event path: normalize, admit, evaluate and
// enqueue decisions for delivery. A bad observation, rule or key never
// aborts the rest of the batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/albapepper/stockwatch/internal/dedup"
	"github.com/albapepper/stockwatch/internal/event"
	"github.com/albapepper/stockwatch/internal/normalize"
	"github.com/albapepper/stockwatch/internal/rules"
	"github.com/albapepper/stockwatch/internal/source"
)

// Admitter is the deduplication step.
type Admitter interface {
	Admit(ctx context.Context, ev event.InventoryEvent, now time.Time) (dedup.Admission, error)
}

// Evaluator is the decision step.
type Evaluator interface {
	Evaluate(ev event.InventoryEvent, now time.Time) []rules.Decision
}

// DecisionSink accepts decisions for delivery.
type DecisionSink interface {
	EnqueueDecision(ctx context.Context, d rules.Decision) error
}

// BatchResult tracks counts and errors from processing one poll.
type BatchResult struct {
	Source     string
	Observed   int
	Malformed  int
	Admitted   int
	Suppressed int
	Conflicts  int
	Decisions  int
	Errors     []string
}

// AddErrorf records a formatted error message.
func (r *BatchResult) AddErrorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Summary returns a human-readable summary of the batch.
func (r *BatchResult) Summary() string {
	return fmt.Sprintf(
		"source=%s observed=%d malformed=%d admitted=%d suppressed=%d conflicts=%d decisions=%d errors=%d",
		r.Source, r.Observed, r.Malformed, r.Admitted, r.Suppressed, r.Conflicts, r.Decisions, len(r.Errors),
	)
}

// Stats are cumulative counters across batches.
type Stats struct {
	Batches   uint64 `json:"batches"`
	Observed  uint64 `json:"observed"`
	Malformed uint64 `json:"malformed"`
	Admitted  uint64 `json:"admitted"`
	Decisions uint64 `json:"decisions"`
	PollFails uint64 `json:"poll_failures"`
}

// Pipeline wires the event path together.
type Pipeline struct {
	admitter  Admitter
	evaluator Evaluator
	sink      DecisionSink
	logger    *slog.Logger

	batches   atomic.Uint64
	observed  atomic.Uint64
	malformed atomic.Uint64
	admitted  atomic.Uint64
	decisions atomic.Uint64
	pollFails atomic.Uint64
}

// New creates a Pipeline.
func New(admitter Admitter, evaluator Evaluator, sink DecisionSink, logger *slog.Logger) *Pipeline {
	return &Pipeline{admitter: admitter, evaluator: evaluator, sink: sink, logger: logger}
}

// Poll runs one adapter and processes its observations. A failed poll is
// logged and skipped; partial results are discarded.
func (p *Pipeline) Poll(ctx context.Context, adapter source.Adapter) (*BatchResult, error) {
	raws, err := adapter.Poll(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		p.pollFails.Add(1)
		p.logger.Warn("Poll failed", "source", adapter.ID(), "error", err)
		return nil, fmt.Errorf("poll %s: %w", adapter.ID(), err)
	}
	return p.Process(ctx, adapter.ID(), raws, time.Now().UTC()), nil
}

// Process runs a batch of observations from one source through the event
// path. If ctx is cancelled mid-batch the remaining observations are left
// for the next poll; a key already being admitted is finished first.
func (p *Pipeline) Process(ctx context.Context, sourceID string, raws []source.RawObservation, now time.Time) *BatchResult {
	result := &BatchResult{Source: sourceID, Observed: len(raws)}

	// Once a key is admitted its decisions must reach the sink, so the
	// per-key work ignores cancellation. Cancellation is only checked
	// between keys.
	keyCtx := context.WithoutCancel(ctx)

	for i, raw := range raws {
		if err := ctx.Err(); err != nil {
			result.AddErrorf("stopped with %d observations left: %v", len(raws)-i, err)
			p.logger.Warn("Batch interrupted", "source", sourceID, "remaining", len(raws)-i, "error", err)
			break
		}

		ev, err := normalize.Normalize(raw)
		if err != nil {
			result.Malformed++
			p.logger.Debug("Skipping malformed observation", "source", sourceID, "error", err)
			continue
		}

		adm, err := p.admitter.Admit(keyCtx, ev, now)
		if err != nil {
			if errors.Is(err, dedup.ErrStateConflict) {
				result.Conflicts++
			}
			result.AddErrorf("%s: %v", ev.IdentityKey, err)
			p.logger.Warn("Admit failed", "key", ev.IdentityKey, "error", err)
			continue
		}
		if adm.Outcome == dedup.Suppressed {
			result.Suppressed++
			continue
		}
		result.Admitted++

		for _, d := range p.evaluator.Evaluate(adm.Event, now) {
			if err := p.sink.EnqueueDecision(keyCtx, d); err != nil {
				result.AddErrorf("%s/%s: enqueue: %v", d.RuleID, ev.IdentityKey, err)
				p.logger.Error("Enqueue decision failed", "rule", d.RuleID, "key", ev.IdentityKey, "error", err)
				continue
			}
			result.Decisions++
		}
	}

	if result.Malformed > 0 {
		p.logger.Warn("Malformed observations skipped", "source", sourceID, "count", result.Malformed)
	}

	p.batches.Add(1)
	p.observed.Add(uint64(result.Observed))
	p.malformed.Add(uint64(result.Malformed))
	p.admitted.Add(uint64(result.Admitted))
	p.decisions.Add(uint64(result.Decisions))
	return result
}

// Stats returns the cumulative counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Batches:   p.batches.Load(),
		Observed:  p.observed.Load(),
		Malformed: p.malformed.Load(),
		Admitted:  p.admitted.Load(),
		Decisions: p.decisions.Load(),
		PollFails: p.pollFails.Load(),
	}
}
