// Package rules matches admitted inventory events against subscriber watch
// rules. Every matching rule produces its own Decision.
package rules

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/albapepper/stockwatch/internal/event"
	"github.com/albapepper/stockwatch/internal/normalize"
)

var (
	ErrInvalidRule = errors.New("invalid watch rule")
	ErrNotFound    = errors.New("watch rule not found")
)

// Action is what the owner wants done when a rule matches.
type Action string

const (
	ActionNotify Action = "notify"
	// ActionCart asks the separate cart collaborator to act. Nothing in this
	// service places orders.
	ActionCart Action = "cart"
)

// WatchRule is one subscriber interest.
type WatchRule struct {
	ID               string           `json:"rule_id"`
	Owner            string           `json:"owner"`
	Identifiers      []string         `json:"identifiers,omitempty"`
	Tags             []string         `json:"tags,omitempty"`
	PriceCap         *decimal.Decimal `json:"price_cap,omitempty"`
	PreferredVendors []string         `json:"preferred_vendors,omitempty"`
	Action           Action           `json:"action"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Wildcard reports whether the rule names no identifiers or tags.
func (r *WatchRule) Wildcard() bool {
	return len(r.Identifiers) == 0 && len(r.Tags) == 0
}

// Decision is the result of one rule matching one event.
type Decision struct {
	ID        string               `json:"id"`
	RuleID    string               `json:"rule_id"`
	Owner     string               `json:"owner"`
	Action    Action               `json:"action"`
	Event     event.InventoryEvent `json:"event"`
	CreatedAt time.Time            `json:"created_at"`
}

// Normalize validates a rule and canonicalizes its fields. It assigns an ID
// when none is set.
func Normalize(r WatchRule, now time.Time) (WatchRule, error) {
	r.Owner = strings.TrimSpace(r.Owner)
	if r.Owner == "" {
		return r, fmt.Errorf("%w: owner is required", ErrInvalidRule)
	}
	switch r.Action {
	case "":
		r.Action = ActionNotify
	case ActionNotify, ActionCart:
	default:
		return r, fmt.Errorf("%w: unknown action %q", ErrInvalidRule, r.Action)
	}
	if r.PriceCap != nil && r.PriceCap.IsNegative() {
		return r, fmt.Errorf("%w: negative price cap", ErrInvalidRule)
	}

	r.Identifiers = canon(r.Identifiers, normalize.Slug)
	r.Tags = canon(r.Tags, lower)
	r.PreferredVendors = canon(r.PreferredVendors, lower)

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	return r, nil
}

// Matches reports whether every predicate the rule specifies holds for ev.
func Matches(r *WatchRule, ev *event.InventoryEvent) bool {
	if !r.Wildcard() && !targets(r, ev) {
		return false
	}
	if r.PriceCap != nil {
		if !ev.Available || ev.Price == nil || ev.Price.GreaterThan(*r.PriceCap) {
			return false
		}
	}
	if len(r.PreferredVendors) > 0 && !slices.Contains(r.PreferredVendors, ev.SourceID) {
		return false
	}
	return true
}

func targets(r *WatchRule, ev *event.InventoryEvent) bool {
	for _, k := range eventKeys(ev) {
		if slices.Contains(r.Identifiers, k) {
			return true
		}
	}
	for _, t := range ev.Tags {
		if slices.Contains(r.Tags, t) {
			return true
		}
	}
	return false
}

// eventKeys lists the identifiers an event can be matched by.
func eventKeys(ev *event.InventoryEvent) []string {
	keys := []string{ev.IdentityKey}
	if ev.ProductID != "" {
		keys = append(keys, normalize.Slug(ev.ProductID))
	}
	if ev.SKU != "" {
		keys = append(keys, ev.SKU)
	}
	return keys
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func canon(in []string, f func(string) string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = f(s); s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}
