// Package scheduler runs the service's periodic work as independent Go
// tickers: source polls, release sync, timeline checks, the daily digest
// and outbox cleanup. Tasks never share a loop, so a slow upstream only
// delays its own task.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one periodic job. A tick that arrives while the previous run is
// still in flight is skipped, not queued.
type Task struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means no deadline.
	Timeout time.Duration
	// RunAtStart runs the task once immediately.
	RunAtStart bool
	Run        func(ctx context.Context) error

	// next overrides Interval for wall-clock schedules.
	next func(now time.Time) time.Time

	running atomic.Bool
	skipped atomic.Uint64
}

// At returns a task that runs at the wall-clock times produced by next,
// e.g. once a day at a fixed UTC time.
func At(name string, next func(now time.Time) time.Time, timeout time.Duration, run func(ctx context.Context) error) *Task {
	return &Task{Name: name, Timeout: timeout, Run: run, next: next}
}

// Skipped reports how many ticks were dropped because a run was in flight.
func (t *Task) Skipped() uint64 { return t.skipped.Load() }

// Start launches every task on its own goroutine. Blocks until ctx is
// cancelled and all in-flight runs have returned. Intended to be called
// with `go`.
func Start(ctx context.Context, tasks []*Task, logger *slog.Logger) {
	var wg sync.WaitGroup
	for _, t := range tasks {
		if t.Interval <= 0 && t.next == nil {
			logger.Info("Scheduled task disabled", "task", t.Name)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.loop(ctx, logger)
		}()
	}
	logger.Info("Scheduler started", "tasks", len(tasks))

	<-ctx.Done()
	wg.Wait()
	logger.Info("Scheduler stopped")
}

func (t *Task) loop(ctx context.Context, logger *slog.Logger) {
	var inflight sync.WaitGroup
	defer inflight.Wait()

	fire := func() {
		if !t.running.CompareAndSwap(false, true) {
			t.skipped.Add(1)
			logger.Warn("Skipping tick, previous run still in flight", "task", t.Name)
			return
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer t.running.Store(false)
			t.runOnce(ctx, logger)
		}()
	}

	if t.RunAtStart {
		fire()
	}

	if t.next != nil {
		for {
			timer := time.NewTimer(time.Until(t.next(time.Now())))
			select {
			case <-timer.C:
				fire()
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fire()
		case <-ctx.Done():
			return
		}
	}
}

func (t *Task) runOnce(ctx context.Context, logger *slog.Logger) {
	runCtx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := t.Run(runCtx)
	dur := time.Since(start).Round(time.Millisecond)
	if err != nil {
		logger.Warn("Scheduled task failed", "task", t.Name, "duration", dur, "error", err)
		return
	}
	logger.Debug("Scheduled task finished", "task", t.Name, "duration", dur)
}
