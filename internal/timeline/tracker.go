package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const maxCASAttempts = 5

// Milestone is the payload handed to the Emitter for one newly due firing.
type Milestone struct {
	Firing      MilestoneFiring `json:"firing"`
	Name        string          `json:"name"`
	Code        string          `json:"code,omitempty"`
	URI         string          `json:"uri,omitempty"`
	State       State           `json:"state"`
	ReleaseDate *time.Time      `json:"release_date,omitempty"`
	DaysUntil   *int            `json:"days_until,omitempty"`
}

// Emitter receives milestone payloads. Emission happens before the firing is
// recorded, so an Emitter may see the same milestone twice across restarts.
type Emitter interface {
	EmitMilestone(ctx context.Context, m Milestone) error
}

// CheckResult summarizes one scheduled check.
type CheckResult struct {
	Checked     int
	Fired       int
	Transitions int
	Archived    int
	Errors      []string
}

// Summary returns a one-line summary of the check.
func (r *CheckResult) Summary() string {
	s := fmt.Sprintf("%d releases checked, %d milestones fired, %d transitions, %d archived",
		r.Checked, r.Fired, r.Transitions, r.Archived)
	if len(r.Errors) > 0 {
		s += fmt.Sprintf(", %d errors", len(r.Errors))
	}
	return s
}

// SyncResult summarizes a batch of observed release infos.
type SyncResult struct {
	Created   int
	Updated   int
	Unchanged int
	Errors    []string
}

// Summary returns a one-line summary of the sync.
func (r *SyncResult) Summary() string {
	s := fmt.Sprintf("%d created, %d updated, %d unchanged", r.Created, r.Updated, r.Unchanged)
	if len(r.Errors) > 0 {
		s += fmt.Sprintf(", %d errors", len(r.Errors))
	}
	return s
}

// Tracker applies observations and scheduled checks to a Store.
type Tracker struct {
	store   Store
	emitter Emitter
	opts    Options
	logger  *slog.Logger

	hookMu sync.RWMutex
	hooks  []func(id string)
}

// NewTracker creates a Tracker.
func NewTracker(store Store, emitter Emitter, opts Options, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, emitter: emitter, opts: opts, logger: logger}
}

// Store returns the underlying release store.
func (t *Tracker) Store() Store { return t.store }

// OnChange registers fn to run after every stored change to a release,
// whether from an observation, a correction or a scheduled check.
func (t *Tracker) OnChange(fn func(id string)) {
	t.hookMu.Lock()
	defer t.hookMu.Unlock()
	t.hooks = append(t.hooks, fn)
}

func (t *Tracker) changed(id string) {
	t.hookMu.RLock()
	defer t.hookMu.RUnlock()
	for _, fn := range t.hooks {
		fn(id)
	}
}

// Observe creates a release or applies date corrections to it. Dates not
// present in info are left untouched. It reports whether anything changed.
func (t *Tracker) Observe(ctx context.Context, info ReleaseInfo, now time.Time) (*Release, bool, error) {
	id := strings.TrimSpace(info.ID)
	if id == "" {
		return nil, false, fmt.Errorf("observe release: missing id")
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := t.store.Get(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("get release %s: %w", id, err)
		}
		if cur != nil && cur.State == StateArchived {
			return cur, false, fmt.Errorf("%w: %s", ErrArchived, id)
		}

		var next Release
		if cur == nil {
			next = Release{ID: id, KnownDates: map[DateKind]time.Time{}, DiscoveredAt: now}
		} else {
			next = cur.Clone()
			if next.KnownDates == nil {
				next.KnownDates = map[DateKind]time.Time{}
			}
		}

		changed := cur == nil
		changed = setIfChanged(&next.Name, info.Name) || changed
		changed = setIfChanged(&next.Code, info.Code) || changed
		changed = setIfChanged(&next.SetType, info.SetType) || changed
		changed = setIfChanged(&next.URI, info.URI) || changed
		for kind, date := range info.Dates {
			if !kind.Valid() || date.IsZero() {
				continue
			}
			day := Day(date)
			if old, ok := next.KnownDates[kind]; !ok || !old.Equal(day) {
				next.KnownDates[kind] = day
				changed = true
			}
		}
		if !changed {
			return cur, false, nil
		}

		next.State = DeriveState(&next, now, t.opts)
		next.UpdatedAt = now

		ok, err := t.store.CompareAndSwap(ctx, cur, next)
		if err != nil {
			return nil, false, fmt.Errorf("store release %s: %w", id, err)
		}
		if ok {
			if cur != nil {
				t.logger.Info("Release updated", "release", id, "state", next.State)
			}
			t.changed(id)
			return &next, true, nil
		}
	}
	return nil, false, fmt.Errorf("%w: %s after %d attempts", ErrStateConflict, id, maxCASAttempts)
}

// Correct applies date corrections to an existing release.
func (t *Tracker) Correct(ctx context.Context, id string, dates map[DateKind]time.Time, now time.Time) (*Release, error) {
	cur, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get release %s: %w", id, err)
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r, _, err := t.Observe(ctx, ReleaseInfo{ID: id, Dates: dates}, now)
	return r, err
}

// Sync observes a batch of release infos. Per-release failures are
// collected and never abort the batch.
func (t *Tracker) Sync(ctx context.Context, infos []ReleaseInfo, now time.Time) *SyncResult {
	result := &SyncResult{}
	for _, info := range infos {
		cur, err := t.store.Get(ctx, info.ID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", info.ID, err))
			continue
		}
		_, changed, err := t.Observe(ctx, info, now)
		switch {
		case errors.Is(err, ErrArchived):
			result.Unchanged++
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", info.ID, err))
		case !changed:
			result.Unchanged++
		case cur == nil:
			result.Created++
		default:
			result.Updated++
		}
	}
	return result
}

// Check derives the state of every release at now and emits milestones
// that are newly due. Each release is handled independently.
func (t *Tracker) Check(ctx context.Context, now time.Time) *CheckResult {
	result := &CheckResult{}

	releases, err := t.store.List(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list releases: %v", err))
		return result
	}

	for i := range releases {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ctx.Err().Error())
			break
		}
		r := &releases[i]
		if r.State == StateArchived {
			continue
		}
		result.Checked++

		if err := t.checkOne(ctx, r, now, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", r.ID, err))
			t.logger.Error("Timeline check failed", "release", r.ID, "error", err)
		}
	}
	return result
}

func (t *Tracker) checkOne(ctx context.Context, r *Release, now time.Time, result *CheckResult) error {
	state := DeriveState(r, now, t.opts)
	due := DueMilestones(r, now, t.opts)
	if state == StateArchived {
		due = nil
	}
	if state == r.State && len(due) == 0 {
		return nil
	}

	var emitted []MilestoneKind
	for _, kind := range due {
		m := t.milestone(r, kind, state, now)
		if err := t.emitter.EmitMilestone(ctx, m); err != nil {
			// Not recorded, so the next check retries it.
			t.logger.Warn("Milestone emit failed", "release", r.ID, "milestone", kind, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s/%s: emit: %v", r.ID, kind, err))
			continue
		}
		emitted = append(emitted, kind)
	}

	cur := r
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		next := cur.Clone()
		next.State = DeriveState(cur, now, t.opts)

		var fired int
		for _, kind := range emitted {
			if next.HasFired(kind) {
				continue
			}
			next.History = append(next.History, MilestoneFiring{
				ReleaseID: next.ID,
				Kind:      kind,
				FiredAt:   firedAt(next.History, now),
			})
			fired++
		}
		if next.State == cur.State && fired == 0 {
			return nil
		}
		next.UpdatedAt = now

		ok, err := t.store.CompareAndSwap(ctx, cur, next)
		if err != nil {
			return fmt.Errorf("store release: %w", err)
		}
		if ok {
			t.changed(next.ID)
			result.Fired += fired
			if next.State != cur.State {
				result.Transitions++
				t.logger.Info("Release state changed", "release", next.ID, "from", cur.State, "to", next.State)
				if next.State == StateArchived {
					result.Archived++
				}
			}
			return nil
		}

		fresh, err := t.store.Get(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("reload release: %w", err)
		}
		if fresh == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
		}
		cur = fresh
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrStateConflict, r.ID, maxCASAttempts)
}

func (t *Tracker) milestone(r *Release, kind MilestoneKind, state State, now time.Time) Milestone {
	m := Milestone{
		Firing: MilestoneFiring{ReleaseID: r.ID, Kind: kind, FiredAt: now},
		Name:   r.Name,
		Code:   r.Code,
		URI:    r.URI,
		State:  state,
	}
	if rel, ok := r.ReleaseDate(); ok {
		days := DaysUntil(rel, now)
		m.ReleaseDate = &rel
		m.DaysUntil = &days
	}
	return m
}

// firedAt keeps history timestamps non-decreasing even if the clock steps back.
func firedAt(history []MilestoneFiring, now time.Time) time.Time {
	if n := len(history); n > 0 && history[n-1].FiredAt.After(now) {
		return history[n-1].FiredAt
	}
	return now
}

func setIfChanged(dst *string, v string) bool {
	v = strings.TrimSpace(v)
	if v == "" || *dst == v {
		return false
	}
	*dst = v
	return true
}
