// Package digest builds the periodic summary of upcoming releases. It is a
// read-only projection over timeline state and keeps nothing of its own.
package digest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/stockwatch/internal/timeline"
)

const (
	DefaultHorizonDays = 90
	MaxHorizonDays     = 365
)

// Summary is one release line in a digest.
type Summary struct {
	ReleaseID   string         `json:"release_id"`
	Name        string         `json:"name"`
	Code        string         `json:"code,omitempty"`
	SetType     string         `json:"set_type,omitempty"`
	URI         string         `json:"uri,omitempty"`
	State       timeline.State `json:"state"`
	ReleaseDate *time.Time     `json:"release_date,omitempty"`
	DaysUntil   *int           `json:"days_until,omitempty"`
}

// Payload is what gets handed to the dispatch gateway.
type Payload struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	HorizonDays int       `json:"horizon_days"`
	Releases    []Summary `json:"releases"`
}

// ClampHorizon applies the default and maximum horizon.
func ClampHorizon(days int) int {
	switch {
	case days <= 0:
		return DefaultHorizonDays
	case days > MaxHorizonDays:
		return MaxHorizonDays
	}
	return days
}

// Build orders releases for a digest: dated releases inside the horizon,
// soonest first, then releases with no release date in discovery order.
// Archived releases and releases already past are excluded.
func Build(releases []timeline.Release, now time.Time, horizonDays int) []Summary {
	horizon := ClampHorizon(horizonDays)

	var dated, undated []timeline.Release
	for _, r := range releases {
		if r.State == timeline.StateArchived {
			continue
		}
		rel, ok := r.ReleaseDate()
		if !ok {
			undated = append(undated, r)
			continue
		}
		if days := timeline.DaysUntil(rel, now); days >= 0 && days <= horizon {
			dated = append(dated, r)
		}
	}

	sort.SliceStable(dated, func(i, j int) bool {
		a, _ := dated[i].ReleaseDate()
		b, _ := dated[j].ReleaseDate()
		if !a.Equal(b) {
			return a.Before(b)
		}
		return dated[i].Name < dated[j].Name
	})
	sort.SliceStable(undated, func(i, j int) bool {
		return undated[i].DiscoverySeq < undated[j].DiscoverySeq
	})

	out := make([]Summary, 0, len(dated)+len(undated))
	for _, r := range dated {
		out = append(out, summarize(r, now))
	}
	for _, r := range undated {
		out = append(out, summarize(r, now))
	}
	return out
}

func summarize(r timeline.Release, now time.Time) Summary {
	s := Summary{
		ReleaseID: r.ID,
		Name:      r.Name,
		Code:      r.Code,
		SetType:   r.SetType,
		URI:       r.URI,
		State:     r.State,
	}
	if rel, ok := r.ReleaseDate(); ok {
		days := timeline.DaysUntil(rel, now)
		s.ReleaseDate = &rel
		s.DaysUntil = &days
	}
	return s
}

// Lister is the part of the timeline store the aggregator reads.
type Lister interface {
	List(ctx context.Context) ([]timeline.Release, error)
}

// Aggregator builds digests from a release store.
type Aggregator struct {
	releases Lister
}

// NewAggregator creates an Aggregator.
func NewAggregator(releases Lister) *Aggregator {
	return &Aggregator{releases: releases}
}

// Upcoming returns the ordered summaries for the horizon.
func (a *Aggregator) Upcoming(ctx context.Context, now time.Time, horizonDays int) ([]Summary, error) {
	releases, err := a.releases.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	return Build(releases, now, horizonDays), nil
}

// Build produces a digest payload. Safe to call on demand.
func (a *Aggregator) Build(ctx context.Context, now time.Time, horizonDays int) (*Payload, error) {
	summaries, err := a.Upcoming(ctx, now, horizonDays)
	if err != nil {
		return nil, err
	}
	return &Payload{
		ID:          uuid.NewString(),
		GeneratedAt: now,
		HorizonDays: ClampHorizon(horizonDays),
		Releases:    summaries,
	}, nil
}

// NextRun returns the next UTC wall-clock time at hour:minute strictly
// after now.
func NextRun(now time.Time, hour, minute int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
