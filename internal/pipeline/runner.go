package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/albapepper/stockwatch/internal/source"
)

// RunResult aggregates one PollAll pass.
type RunResult struct {
	Sources   int
	Succeeded int
	Failed    int
	Observed  int
	Admitted  int
	Decisions int
	Batches   []*BatchResult
	Errors    []string
	Duration  time.Duration
}

// Summary returns a human-readable summary of the run.
func (r *RunResult) Summary() string {
	return fmt.Sprintf(
		"sources=%d succeeded=%d failed=%d observed=%d admitted=%d decisions=%d errors=%d duration=%s",
		r.Sources, r.Succeeded, r.Failed, r.Observed, r.Admitted, r.Decisions, len(r.Errors), r.Duration.Round(time.Millisecond),
	)
}

// PollAll polls every adapter through a pool of workers. One source failing
// never affects the others. Each poll is bounded by timeout when positive.
func (p *Pipeline) PollAll(ctx context.Context, adapters []source.Adapter, workers int, timeout time.Duration, logger *slog.Logger) *RunResult {
	start := time.Now()
	result := &RunResult{Sources: len(adapters)}
	if len(adapters) == 0 {
		logger.Info("No sources to poll")
		return result
	}

	if workers < 1 {
		workers = 1
	}
	if workers > len(adapters) {
		workers = len(adapters)
	}

	ch := make(chan source.Adapter, len(adapters))
	for _, a := range adapters {
		ch <- a
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range ch {
				pollCtx, cancel := ctx, context.CancelFunc(func() {})
				if timeout > 0 {
					pollCtx, cancel = context.WithTimeout(ctx, timeout)
				}
				batch, err := p.Poll(pollCtx, a)
				cancel()

				mu.Lock()
				if err != nil {
					result.Failed++
					result.Errors = append(result.Errors, err.Error())
				} else {
					result.Succeeded++
					result.Observed += batch.Observed
					result.Admitted += batch.Admitted
					result.Decisions += batch.Decisions
					result.Batches = append(result.Batches, batch)
					for _, e := range batch.Errors {
						result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", a.ID(), e))
					}
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	result.Duration = time.Since(start)

	logger.Info("Poll run complete", "summary", result.Summary())
	return result
}
