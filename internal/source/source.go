// Package source defines the boundary between upstream adapters and the
// pipeline. Each vendor gets one Adapter implementation; the pipeline only
// ever sees RawObservations.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/albapepper/stockwatch/internal/timeline"
)

// ErrUpstreamUnavailable marks an adapter-level fetch failure. The poll is
// retried on the next scheduled cycle only.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// RawObservation is one listing as reported by a source, before
// normalization. Price is kept as the raw string the source produced.
type RawObservation struct {
	SourceID   string
	SKU        string // vendor SKU or slug; the listing identity
	ProductID  string // catalog-level identifier shared across vendors
	Title      string
	URL        string
	Price      string
	Currency   string
	Available  *bool
	Quantity   *int
	KindHint   string // optional; e.g. "delisted"
	Tags       []string
	Attributes map[string]string
	FetchedAt  time.Time
}

// Adapter is implemented once per inventory vendor.
type Adapter interface {
	ID() string
	Poll(ctx context.Context) ([]RawObservation, error)
}

// ReleaseAdapter is implemented by sources that publish release dates.
type ReleaseAdapter interface {
	ID() string
	FetchReleases(ctx context.Context) ([]timeline.ReleaseInfo, error)
}

// Bool returns a pointer to b. Convenience for adapters and tests.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n.
func Int(n int) *int { return &n }
