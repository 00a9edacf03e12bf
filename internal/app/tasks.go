package app

import (
	"context"
	"fmt"
	"time"

	"github.com/albapepper/stockwatch/internal/digest"
	"github.com/albapepper/stockwatch/internal/scheduler"
	"github.com/albapepper/stockwatch/internal/source"
)

// Outbox rows older than the retention are removed this often.
const outboxCleanupInterval = 6 * time.Hour

// Tasks returns the periodic work the service runs: one poll task per
// inventory source, release sync, timeline checks, the daily digest and
// outbox cleanup.
func (a *App) Tasks() []*scheduler.Task {
	cfg := a.Config
	var tasks []*scheduler.Task

	for _, s := range cfg.Sources {
		ad, ok := a.Adapter(s.ID)
		if !ok {
			continue
		}
		tasks = append(tasks, &scheduler.Task{
			Name:       "poll:" + s.ID,
			Interval:   cfg.PollInterval(s),
			Timeout:    cfg.PollTimeout,
			RunAtStart: true,
			Run:        a.pollTask(ad),
		})
	}

	if len(a.ReleaseAdapters) > 0 {
		tasks = append(tasks, &scheduler.Task{
			Name:       "release-sync",
			Interval:   cfg.ReleaseSyncInterval,
			Timeout:    5 * time.Minute,
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				res := a.SyncReleases(ctx, time.Now().UTC())
				if len(res.Errors) > 0 {
					return fmt.Errorf("release sync: %s", res.Summary())
				}
				return nil
			},
		})
	}

	tasks = append(tasks, &scheduler.Task{
		Name:       "timeline-check",
		Interval:   cfg.TimelineCheckInterval,
		Timeout:    5 * time.Minute,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			res := a.Tracker.Check(ctx, time.Now().UTC())
			if res.Fired > 0 || res.Archived > 0 {
				a.Logger.Info("Timeline check", "summary", res.Summary())
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("timeline check: %s", res.Summary())
			}
			return nil
		},
	})

	if cfg.DigestEnabled {
		hour, minute := cfg.DigestHour, cfg.DigestMinute
		tasks = append(tasks, scheduler.At("digest",
			func(now time.Time) time.Time { return digest.NextRun(now, hour, minute) },
			2*time.Minute,
			func(ctx context.Context) error {
				_, err := a.SendDigest(ctx, time.Now().UTC())
				return err
			},
		))
	}

	if cfg.OutboxCleanupEnabled {
		tasks = append(tasks, &scheduler.Task{
			Name:     "outbox-cleanup",
			Interval: outboxCleanupInterval,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				n, err := a.Dispatcher.Outbox().Cleanup(ctx, time.Now().UTC().Add(-cfg.OutboxRetention))
				if err != nil {
					return err
				}
				if n > 0 {
					a.Logger.Info("Outbox cleanup", "deleted", n)
				}
				return nil
			},
		})
	}

	return tasks
}

// pollTask runs one adapter through the pipeline. A failed poll is returned
// to the scheduler, which logs it; the next tick retries.
func (a *App) pollTask(ad source.Adapter) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		res, err := a.Pipeline.Poll(ctx, ad)
		if err != nil {
			return err
		}
		if res.Admitted > 0 || len(res.Errors) > 0 {
			a.Logger.Info("Poll processed", "summary", res.Summary())
		}
		return nil
	}
}
