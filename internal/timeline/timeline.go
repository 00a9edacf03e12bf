// Package timeline tracks the lifecycle of announced releases and decides
// which date-relative milestones are newly due.
//
// A Release's state is derived from "now vs. known dates" on every check.
// Its firing history is append-only: a milestone kind fires at most once
// per release, even when the underlying date is later corrected.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

var (
	// ErrArchived is returned when date information arrives for a release
	// that has already been archived.
	ErrArchived = errors.New("release archived")
	// ErrNotFound is returned for corrections to an unknown release.
	ErrNotFound = errors.New("release not found")
	// ErrStateConflict is returned when the compare-and-set on a release
	// keeps losing to concurrent writers.
	ErrStateConflict = errors.New("release state conflict")
)

// DateKind names one of the dates a source may publish for a release.
type DateKind string

const (
	DateAnnouncement DateKind = "announcement"
	DatePreorder     DateKind = "preorder"
	DateRelease      DateKind = "release"
)

// Valid reports whether k is a known date kind.
func (k DateKind) Valid() bool {
	return k == DateAnnouncement || k == DatePreorder || k == DateRelease
}

// State is the derived lifecycle state of a Release.
type State string

const (
	StateUnannounced     State = "unannounced"
	StateAnnounced       State = "announced"
	StatePreorderOpen    State = "preorder_open"
	StateReleaseImminent State = "release_imminent"
	StateReleased        State = "released"
	StateArchived        State = "archived"
)

// MilestoneKind names a checkpoint in a release's lifecycle.
type MilestoneKind string

// MilestoneAnnounced fires once the first date for a release becomes known.
const MilestoneAnnounced MilestoneKind = "announced"

// ThresholdKind returns the milestone kind for a days-before threshold.
func ThresholdKind(days int) MilestoneKind {
	if days == 0 {
		return "release_day"
	}
	return MilestoneKind(fmt.Sprintf("t_minus_%d", days))
}

// MilestoneFiring records that a milestone was emitted for a release.
type MilestoneFiring struct {
	ReleaseID string        `json:"release_id"`
	Kind      MilestoneKind `json:"milestone_kind"`
	FiredAt   time.Time     `json:"fired_at"`
}

// ReleaseInfo is what a release-date source reports. Dates is sparse.
type ReleaseInfo struct {
	ID      string
	Name    string
	Code    string
	SetType string
	URI     string
	Dates   map[DateKind]time.Time
}

// Release is the tracked lifecycle of one product release.
type Release struct {
	ID           string                 `json:"release_id"`
	Name         string                 `json:"name"`
	Code         string                 `json:"code,omitempty"`
	SetType      string                 `json:"set_type,omitempty"`
	URI          string                 `json:"uri,omitempty"`
	KnownDates   map[DateKind]time.Time `json:"known_dates"`
	State        State                  `json:"state"`
	History      []MilestoneFiring      `json:"history"`
	DiscoverySeq int64                  `json:"discovery_seq"`
	DiscoveredAt time.Time              `json:"discovered_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Version      int64                  `json:"-"`
}

// ReleaseDate returns the known release date, if any.
func (r *Release) ReleaseDate() (time.Time, bool) {
	d, ok := r.KnownDates[DateRelease]
	return d, ok
}

// HasFired reports whether kind is already in the firing history.
func (r *Release) HasFired(kind MilestoneKind) bool {
	return slices.ContainsFunc(r.History, func(f MilestoneFiring) bool { return f.Kind == kind })
}

// Clone returns a deep copy.
func (r Release) Clone() Release {
	out := r
	out.KnownDates = maps.Clone(r.KnownDates)
	out.History = slices.Clone(r.History)
	return out
}

// Store persists releases. CompareAndSwap applies next only when the stored
// version still matches old; old == nil means insert-if-absent, in which
// case the store assigns DiscoverySeq.
type Store interface {
	Get(ctx context.Context, id string) (*Release, error)
	List(ctx context.Context) ([]Release, error)
	CompareAndSwap(ctx context.Context, old *Release, next Release) (bool, error)
}

// Options tune state derivation and milestone thresholds.
type Options struct {
	// Thresholds in days before release, sorted descending.
	Thresholds   []int
	ImminentDays int
	ArchiveGrace time.Duration
}

// DefaultOptions mirrors the service defaults.
func DefaultOptions() Options {
	return Options{
		Thresholds:   []int{30, 14, 7, 1, 0},
		ImminentDays: 7,
		ArchiveGrace: 14 * 24 * time.Hour,
	}
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysUntil counts whole calendar days (UTC) from now to date.
func DaysUntil(date, now time.Time) int {
	return int(Day(date).Sub(Day(now)).Hours() / 24)
}

// DeriveState computes a release's state at now. Archived is terminal.
func DeriveState(r *Release, now time.Time, opts Options) State {
	if r.State == StateArchived {
		return StateArchived
	}
	if len(r.KnownDates) == 0 {
		return StateUnannounced
	}

	preorderOpen := false
	if p, ok := r.KnownDates[DatePreorder]; ok && !Day(now).Before(Day(p)) {
		preorderOpen = true
	}

	rel, ok := r.ReleaseDate()
	if !ok {
		if preorderOpen {
			return StatePreorderOpen
		}
		return StateAnnounced
	}

	if opts.ArchiveGrace > 0 && !Day(now).Before(Day(rel).Add(opts.ArchiveGrace)) {
		return StateArchived
	}

	days := DaysUntil(rel, now)
	switch {
	case days <= 0:
		return StateReleased
	case days <= opts.ImminentDays:
		return StateReleaseImminent
	case preorderOpen || (len(opts.Thresholds) > 0 && days <= opts.Thresholds[0]):
		return StatePreorderOpen
	default:
		return StateAnnounced
	}
}

// DueMilestones returns the milestone kinds newly due for r at now.
//
// Only the nearest crossed threshold is considered, so a release first seen
// three days out fires t_minus_7 alone rather than 30, 14 and 7 at once.
// A release moved later fires its now-future thresholds when their day
// arrives; each kind still fires at most once.
func DueMilestones(r *Release, now time.Time, opts Options) []MilestoneKind {
	if r.State == StateArchived || len(r.KnownDates) == 0 {
		return nil
	}

	rel, hasRelease := r.ReleaseDate()
	days := 0
	if hasRelease {
		days = DaysUntil(rel, now)
	}

	var due []MilestoneKind
	if !r.HasFired(MilestoneAnnounced) && (!hasRelease || days >= 0) {
		due = append(due, MilestoneAnnounced)
	}
	if !hasRelease || days < 0 {
		return due
	}

	nearest := -1
	for _, t := range opts.Thresholds {
		if t >= days && (nearest < 0 || t < nearest) {
			nearest = t
		}
	}
	if nearest < 0 || r.HasFired(ThresholdKind(nearest)) {
		return due
	}
	return append(due, ThresholdKind(nearest))
}
