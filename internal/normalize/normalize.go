// Package normalize converts raw source observations into canonical
// inventory events with a stable identity key and change fingerprint.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/albapepper/stockwatch/internal/event"
	"github.com/albapepper/stockwatch/internal/source"
)

// ErrMalformedSource is returned when an observation lacks a usable identity
// or carries neither a parseable price nor an availability signal.
var ErrMalformedSource = errors.New("malformed source observation")

// Attributes that participate in change detection. Everything else
// (crawl timestamps, image URLs, ...) is carried but never fingerprinted.
var fingerprintAttributes = []string{"condition", "edition", "finish", "language", "preorder"}

// Normalize converts a RawObservation into an InventoryEvent.
func Normalize(raw source.RawObservation) (event.InventoryEvent, error) {
	sourceID := strings.ToLower(strings.TrimSpace(raw.SourceID))
	if sourceID == "" {
		return event.InventoryEvent{}, fmt.Errorf("%w: missing source id", ErrMalformedSource)
	}
	slug := Slug(raw.SKU)
	if slug == "" {
		return event.InventoryEvent{}, fmt.Errorf("%w: %s: missing sku", ErrMalformedSource, sourceID)
	}

	price, err := parsePrice(raw.Price)
	if err != nil {
		return event.InventoryEvent{}, fmt.Errorf("%w: %s/%s: %v", ErrMalformedSource, sourceID, slug, err)
	}

	var available bool
	switch {
	case raw.Available != nil:
		available = *raw.Available
	case raw.Quantity != nil:
		available = *raw.Quantity > 0
	case price != nil:
		available = true
	default:
		return event.InventoryEvent{}, fmt.Errorf("%w: %s/%s: no price or availability", ErrMalformedSource, sourceID, slug)
	}

	attrs := make(map[string]string, len(raw.Attributes)+1)
	for k, v := range raw.Attributes {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		attrs[k] = strings.TrimSpace(v)
	}
	attrs["sku"] = slug

	kind := event.KindNewListing
	if k := event.Kind(strings.ToLower(raw.KindHint)); k.Valid() {
		kind = k
	}

	observed := raw.FetchedAt
	if observed.IsZero() {
		observed = time.Now()
	}

	ev := event.InventoryEvent{
		IdentityKey: sourceID + ":" + slug,
		SourceID:    sourceID,
		ProductID:   strings.ToLower(strings.TrimSpace(raw.ProductID)),
		SKU:         slug,
		Title:       strings.TrimSpace(raw.Title),
		URL:         strings.TrimSpace(raw.URL),
		ObservedAt:  observed.UTC(),
		Kind:        kind,
		Price:       price,
		Currency:    strings.ToUpper(strings.TrimSpace(raw.Currency)),
		Available:   available,
		Tags:        normalizeTags(raw.Tags),
		Attributes:  attrs,
	}
	if ev.Currency == "" {
		ev.Currency = "USD"
	}
	ev.Fingerprint = Fingerprint(ev.Price, ev.Available, ev.Attributes)
	return ev, nil
}

// IdentityKey returns the deterministic key for a source's listing.
func IdentityKey(sourceID, sku string) string {
	return strings.ToLower(strings.TrimSpace(sourceID)) + ":" + Slug(sku)
}

// Slug lowercases s and collapses runs of whitespace into single dashes.
func Slug(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}

// Fingerprint hashes the fields that matter for change detection.
func Fingerprint(price *decimal.Decimal, available bool, attrs map[string]string) string {
	var b strings.Builder
	b.WriteString("price=")
	if price != nil {
		b.WriteString(price.StringFixed(2))
	}
	fmt.Fprintf(&b, "|available=%t", available)

	keys := make([]string, 0, len(fingerprintAttributes))
	for _, k := range fingerprintAttributes {
		if _, ok := attrs[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, strings.ToLower(attrs[k]))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// parsePrice accepts "$1,049.99", "49.99 USD", "12". Empty means no price.
func parsePrice(raw string) (*decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	s = strings.NewReplacer("$", "", ",", "", "USD", "", "usd", "").Replace(s)
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("unparseable price %q", raw)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative price %q", raw)
	}
	return &d, nil
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range maps.Keys(seen) {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
