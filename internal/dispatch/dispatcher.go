package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/stockwatch/internal/digest"
	"github.com/albapepper/stockwatch/internal/rules"
	"github.com/albapepper/stockwatch/internal/timeline"
)

// Options tune the delivery worker.
type Options struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultOptions mirrors the service defaults.
func DefaultOptions() Options {
	return Options{
		Interval:    10 * time.Second,
		BatchSize:   100,
		MaxAttempts: 5,
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  10 * time.Minute,
	}
}

// Stats are cumulative counters since process start.
type Stats struct {
	Enqueued uint64 `json:"enqueued"`
	Sent     uint64 `json:"sent"`
	Retried  uint64 `json:"retried"`
	Dropped  uint64 `json:"dropped"`
}

// BatchResult summarizes one delivery pass.
type BatchResult struct {
	Claimed int
	Sent    int
	Retried int
	Dropped int
}

// Dispatcher queues payloads in the outbox and delivers them to the gateway.
type Dispatcher struct {
	outbox  Outbox
	gateway Gateway
	opts    Options
	logger  *slog.Logger

	enqueued atomic.Uint64
	sent     atomic.Uint64
	retried  atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a Dispatcher.
func New(outbox Outbox, gateway Gateway, opts Options, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{outbox: outbox, gateway: gateway, opts: opts, logger: logger}
}

// Outbox returns the underlying outbox.
func (d *Dispatcher) Outbox() Outbox { return d.outbox }

// EnqueueDecision queues a rule decision.
func (d *Dispatcher) EnqueueDecision(ctx context.Context, dec rules.Decision) error {
	return d.enqueue(ctx, KindDecision, dec.ID, dec.RuleID+"/"+dec.Event.IdentityKey, dec)
}

// EmitMilestone queues a milestone payload. It satisfies timeline.Emitter.
func (d *Dispatcher) EmitMilestone(ctx context.Context, m timeline.Milestone) error {
	return d.enqueue(ctx, KindMilestone, uuid.NewString(), m.Firing.ReleaseID+"/"+string(m.Firing.Kind), m)
}

// EnqueueDigest queues a digest payload.
func (d *Dispatcher) EnqueueDigest(ctx context.Context, p *digest.Payload) error {
	return d.enqueue(ctx, KindDigest, p.ID, "digest/"+p.GeneratedAt.UTC().Format(time.DateOnly), p)
}

func (d *Dispatcher) enqueue(ctx context.Context, kind Kind, id, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	now := time.Now().UTC()
	env := Envelope{
		ID:            id,
		Kind:          kind,
		Key:           key,
		Payload:       body,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if err := d.outbox.Enqueue(ctx, env); err != nil {
		return err
	}
	d.enqueued.Add(1)
	return nil
}

// Run delivers due envelopes every Interval until ctx is cancelled.
// Intended to be called with `go`.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Dispatch worker started", "interval", d.opts.Interval)
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := d.DispatchBatch(ctx, time.Now().UTC())
			if err != nil {
				d.logger.Error("Dispatch error", "error", err)
			} else if res.Claimed > 0 {
				d.logger.Info("Dispatch batch", "sent", res.Sent, "retried", res.Retried, "dropped", res.Dropped)
			}
		case <-ctx.Done():
			d.logger.Info("Dispatch worker stopped")
			return
		}
	}
}

// DispatchBatch claims due envelopes and delivers each one. Failures are
// rescheduled with exponential backoff until MaxAttempts, then dropped.
func (d *Dispatcher) DispatchBatch(ctx context.Context, now time.Time) (BatchResult, error) {
	claimed, err := d.outbox.ClaimDue(ctx, now, d.opts.BatchSize)
	if err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Claimed: len(claimed)}
	for _, env := range claimed {
		sendErr := d.gateway.Deliver(ctx, env)
		if sendErr == nil {
			if err := d.outbox.MarkSent(ctx, env.ID); err != nil {
				d.logger.Warn("Mark sent failed", "id", env.ID, "error", err)
			}
			d.sent.Add(1)
			res.Sent++
			continue
		}

		sendErr = fmt.Errorf("%w: %v", ErrDispatchFailure, sendErr)
		attempts := env.Attempts + 1
		if attempts >= d.opts.MaxAttempts {
			d.logger.Error("Dispatch dropped after max attempts",
				"id", env.ID, "kind", env.Kind, "key", env.Key, "attempts", attempts, "error", sendErr)
			if err := d.outbox.MarkDropped(ctx, env.ID, attempts, sendErr.Error()); err != nil {
				d.logger.Warn("Mark dropped failed", "id", env.ID, "error", err)
			}
			d.dropped.Add(1)
			res.Dropped++
			continue
		}

		next := now.Add(d.Backoff(attempts))
		d.logger.Warn("Dispatch failed, will retry",
			"id", env.ID, "kind", env.Kind, "attempt", attempts, "next_attempt_at", next, "error", sendErr)
		if err := d.outbox.MarkRetry(ctx, env.ID, attempts, next, sendErr.Error()); err != nil {
			d.logger.Warn("Mark retry failed", "id", env.ID, "error", err)
		}
		d.retried.Add(1)
		res.Retried++
	}
	return res, nil
}

// Backoff returns the delay before retry number attempts (1-based).
func (d *Dispatcher) Backoff(attempts int) time.Duration {
	delay := d.opts.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.opts.MaxBackoff {
			return d.opts.MaxBackoff
		}
	}
	return min(delay, d.opts.MaxBackoff)
}

// Stats returns the cumulative counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued: d.enqueued.Load(),
		Sent:     d.sent.Load(),
		Retried:  d.retried.Load(),
		Dropped:  d.dropped.Load(),
	}
}
