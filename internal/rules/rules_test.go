package rules

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/albapepper/stockwatch/internal/event"
)

var now = time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func boxEvent(p string, available bool) event.InventoryEvent {
	return event.InventoryEvent{
		IdentityKey: "cardkingdom:mh3-collector-box",
		SourceID:    "cardkingdom",
		ProductID:   "mh3-cb",
		SKU:         "mh3-collector-box",
		Kind:        event.KindRestock,
		Price:       price(p),
		Available:   available,
		Tags:        []string{"mh3", "sealed"},
	}
}

func mustRule(t *testing.T, r WatchRule) WatchRule {
	t.Helper()
	out, err := Normalize(r, now)
	if err != nil {
		t.Fatalf("normalize rule: %v", err)
	}
	return out
}

func TestFanOut(t *testing.T) {
	engine := NewEngine(discard())
	engine.Load([]WatchRule{
		mustRule(t, WatchRule{ID: "r1", Owner: "alice", Identifiers: []string{"MH3-CB"}}),
		mustRule(t, WatchRule{ID: "r2", Owner: "bob", Tags: []string{"Sealed"}, Action: ActionCart}),
		mustRule(t, WatchRule{ID: "r3", Owner: "carol", Identifiers: []string{"cardkingdom:mh3-collector-box"}, Tags: []string{"mh3"}}),
		mustRule(t, WatchRule{ID: "r4", Owner: "dave", Tags: []string{"lorwyn"}}),
	})

	decisions := engine.Evaluate(boxEvent("300.00", true), now)
	if len(decisions) != 3 {
		t.Fatalf("expected 3 decisions, got %d", len(decisions))
	}

	got := make([]string, 0, 3)
	for _, d := range decisions {
		got = append(got, d.RuleID)
		if d.RuleID == "r2" && d.Action != ActionCart {
			t.Errorf("r2 should carry the cart action, got %s", d.Action)
		}
		if d.ID == "" || !d.CreatedAt.Equal(now) {
			t.Errorf("decision missing id or timestamp: %+v", d)
		}
	}
	sort.Strings(got)
	if got[0] != "r1" || got[1] != "r2" || got[2] != "r3" {
		t.Fatalf("unexpected rule ids %v", got)
	}
}

func TestPriceCapBoundary(t *testing.T) {
	r := mustRule(t, WatchRule{Owner: "alice", Tags: []string{"mh3"}, PriceCap: price("249.99")})

	cases := []struct {
		price     string
		available bool
		want      bool
	}{
		{"249.99", true, true},
		{"250.00", true, false},
		{"100.00", false, false},
		{"0", true, true},
	}
	for _, c := range cases {
		ev := boxEvent(c.price, c.available)
		if got := Matches(&r, &ev); got != c.want {
			t.Errorf("price %s available %v: expected %v, got %v", c.price, c.available, c.want, got)
		}
	}

	noPrice := boxEvent("1", true)
	noPrice.Price = nil
	if Matches(&r, &noPrice) {
		t.Error("an unpriced event cannot satisfy a price cap")
	}
}

func TestPreferredVendors(t *testing.T) {
	r := mustRule(t, WatchRule{Owner: "alice", PreferredVendors: []string{"TCGPlayer", "BigBox"}})
	ev := boxEvent("10", true)
	if Matches(&r, &ev) {
		t.Fatal("event from a non-preferred vendor matched")
	}
	ev.SourceID = "bigbox"
	if !Matches(&r, &ev) {
		t.Fatal("event from a preferred vendor did not match")
	}
}

func TestCandidatesSkipUnrelatedRules(t *testing.T) {
	idx := NewIndex([]WatchRule{
		mustRule(t, WatchRule{ID: "a", Owner: "x", Identifiers: []string{"other-product"}}),
		mustRule(t, WatchRule{ID: "b", Owner: "x", Tags: []string{"mh3", "sealed"}}),
		mustRule(t, WatchRule{ID: "c", Owner: "x"}),
	})
	ev := boxEvent("1", true)
	cands := idx.Candidates(&ev)
	if len(cands) != 2 {
		t.Fatalf("expected rule b once plus wildcard c, got %d candidates", len(cands))
	}
	for _, r := range cands {
		if r.ID == "a" {
			t.Fatal("rule keyed on another identifier should not be a candidate")
		}
	}
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	cases := map[string]WatchRule{
		"no owner":       {Tags: []string{"x"}},
		"bad action":     {Owner: "a", Action: "buy"},
		"negative price": {Owner: "a", PriceCap: price("-1")},
	}
	for name, r := range cases {
		if _, err := Normalize(r, now); !errors.Is(err, ErrInvalidRule) {
			t.Errorf("%s: expected ErrInvalidRule, got %v", name, err)
		}
	}
}

func TestServiceReloadsSnapshot(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), NewEngine(discard()), discard())

	added, err := svc.Add(ctx, WatchRule{Owner: "alice", Tags: []string{"mh3"}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added.ID == "" || added.Action != ActionNotify {
		t.Fatalf("expected generated id and default action, got %+v", added)
	}
	if n := len(svc.Engine().Evaluate(boxEvent("1", true), now)); n != 1 {
		t.Fatalf("expected 1 decision after add, got %d", n)
	}

	svc.Add(ctx, WatchRule{Owner: "bob", Tags: []string{"sealed"}})
	mine, _ := svc.List(ctx, "alice")
	if len(mine) != 1 {
		t.Fatalf("expected 1 rule for alice, got %d", len(mine))
	}

	if err := svc.Remove(ctx, added.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if n := len(svc.Engine().Evaluate(boxEvent("1", true), now)); n != 1 {
		t.Fatalf("expected 1 decision after remove, got %d", n)
	}
	if err := svc.Remove(ctx, added.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
