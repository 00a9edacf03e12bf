// Package dedup decides, per identity key, whether an incoming inventory
// event is novel enough to flow on to the decision engine.
//
// Every decision is committed with a compare-and-set against the stored
// DedupRecord, so overlapping polls for the same key never lose updates.
// Records are superseded, never deleted; a record older than the TTL is
// treated as absent and replaced on the next admission.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/albapepper/stockwatch/internal/event"
)

const maxCASAttempts = 5

// ErrStateConflict is returned when the compare-and-set keeps losing to
// concurrent writers for the same key.
var ErrStateConflict = errors.New("dedup state conflict")

// Record is the last-seen state for one identity key.
type Record struct {
	IdentityKey     string           `json:"identity_key"`
	SourceID        string           `json:"source_id"`
	LastFingerprint string           `json:"last_fingerprint"`
	LastPrice       *decimal.Decimal `json:"last_price,omitempty"`
	LastAvailable   bool             `json:"last_available"`
	LastSeenAt      time.Time        `json:"last_seen_at"`
	LastAcceptedAt  time.Time        `json:"last_accepted_at"`
	SuppressedUntil *time.Time       `json:"suppressed_until,omitempty"`
	Version         int64            `json:"version"`
}

// Store persists dedup records. CompareAndSwap must apply next only if the
// stored record still matches old (by Version); old == nil means "insert if
// absent".
type Store interface {
	Get(ctx context.Context, identityKey string) (*Record, error)
	CompareAndSwap(ctx context.Context, old *Record, next Record) (bool, error)
}

// Outcome of an admission attempt.
type Outcome int

const (
	Suppressed Outcome = iota
	Admitted
)

func (o Outcome) String() string {
	if o == Admitted {
		return "admitted"
	}
	return "suppressed"
}

// Admission is the result of Admit. Event carries the kind classified
// against the previous record when admitted.
type Admission struct {
	Outcome Outcome
	Event   event.InventoryEvent
	Reason  string
}

// Options configures a Deduplicator.
type Options struct {
	// RecordTTL after which a record no longer suppresses. Zero disables.
	RecordTTL time.Duration
	// Cooldowns per source ID. Sources not listed have no cool-down.
	Cooldowns map[string]time.Duration
}

// Stats are cumulative counters since process start.
type Stats struct {
	Admitted   uint64 `json:"admitted"`
	Suppressed uint64 `json:"suppressed"`
	Conflicts  uint64 `json:"conflicts"`
}

// Deduplicator applies the admission policy over a Store.
type Deduplicator struct {
	store Store
	opts  Options

	admitted   atomic.Uint64
	suppressed atomic.Uint64
	conflicts  atomic.Uint64
}

// New creates a Deduplicator.
func New(store Store, opts Options) *Deduplicator {
	if opts.Cooldowns == nil {
		opts.Cooldowns = map[string]time.Duration{}
	}
	return &Deduplicator{store: store, opts: opts}
}

// Admit decides whether ev proceeds. On CAS loss it re-reads and retries a
// bounded number of times before returning ErrStateConflict.
func (d *Deduplicator) Admit(ctx context.Context, ev event.InventoryEvent, now time.Time) (Admission, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := d.store.Get(ctx, ev.IdentityKey)
		if err != nil {
			return Admission{}, fmt.Errorf("get dedup record %s: %w", ev.IdentityKey, err)
		}

		adm, next := d.decide(current, ev, now)
		ok, err := d.store.CompareAndSwap(ctx, current, next)
		if err != nil {
			return Admission{}, fmt.Errorf("store dedup record %s: %w", ev.IdentityKey, err)
		}
		if !ok {
			d.conflicts.Add(1)
			continue
		}

		if adm.Outcome == Admitted {
			d.admitted.Add(1)
		} else {
			d.suppressed.Add(1)
		}
		return adm, nil
	}
	return Admission{}, fmt.Errorf("%w: %s after %d attempts", ErrStateConflict, ev.IdentityKey, maxCASAttempts)
}

// Stats returns the cumulative counters.
func (d *Deduplicator) Stats() Stats {
	return Stats{
		Admitted:   d.admitted.Load(),
		Suppressed: d.suppressed.Load(),
		Conflicts:  d.conflicts.Load(),
	}
}

// decide is the pure admission policy: given the stored record (or nil) it
// returns the outcome and the record to write.
func (d *Deduplicator) decide(current *Record, ev event.InventoryEvent, now time.Time) (Admission, Record) {
	if current == nil || d.expired(current, now) {
		kind := event.KindNewListing
		if ev.Kind == event.KindDelisted {
			kind = event.KindDelisted
		}
		next := d.accepted(current, ev, now)
		return Admission{Outcome: Admitted, Event: ev.WithKind(kind), Reason: "first sighting"}, next
	}

	if current.LastFingerprint == ev.Fingerprint {
		next := *current
		next.LastSeenAt = now
		return Admission{Outcome: Suppressed, Event: ev, Reason: "unchanged"}, next
	}

	if current.SuppressedUntil != nil && now.Before(*current.SuppressedUntil) {
		next := *current
		next.LastSeenAt = now
		return Admission{Outcome: Suppressed, Event: ev, Reason: "cool-down"}, next
	}

	next := d.accepted(current, ev, now)
	return Admission{Outcome: Admitted, Event: ev.WithKind(classify(current, ev)), Reason: "changed"}, next
}

func (d *Deduplicator) accepted(current *Record, ev event.InventoryEvent, now time.Time) Record {
	next := Record{
		IdentityKey:     ev.IdentityKey,
		SourceID:        ev.SourceID,
		LastFingerprint: ev.Fingerprint,
		LastPrice:       ev.Price,
		LastAvailable:   ev.Available,
		LastSeenAt:      now,
		LastAcceptedAt:  now,
	}
	if current != nil {
		next.Version = current.Version
	}
	if cd := d.opts.Cooldowns[ev.SourceID]; cd > 0 {
		until := now.Add(cd)
		next.SuppressedUntil = &until
	}
	return next
}

func (d *Deduplicator) expired(r *Record, now time.Time) bool {
	return d.opts.RecordTTL > 0 && now.Sub(r.LastSeenAt) > d.opts.RecordTTL
}

// classify names the change between the stored record and an admitted event.
func classify(prev *Record, ev event.InventoryEvent) event.Kind {
	switch {
	case ev.Available && !prev.LastAvailable:
		return event.KindRestock
	case !ev.Available && prev.LastAvailable:
		return event.KindDelisted
	case priceChanged(prev.LastPrice, ev.Price):
		return event.KindPriceChange
	default:
		return event.KindNewListing
	}
}

func priceChanged(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a != b
	}
	return !a.Equal(*b)
}
