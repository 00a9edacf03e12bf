// Package event defines the canonical inventory event shape every source is
// normalized into. Events are the contract between the normalizer, the
// deduplicator and the decision engine.
package event

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies what changed about a listing.
type Kind string

const (
	KindNewListing  Kind = "new_listing"
	KindRestock     Kind = "restock"
	KindPriceChange Kind = "price_change"
	KindDelisted    Kind = "delisted"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindNewListing, KindRestock, KindPriceChange, KindDelisted:
		return true
	}
	return false
}

// InventoryEvent is one normalized observation of a vendor listing.
// Treat it as immutable: WithKind returns a copy.
type InventoryEvent struct {
	IdentityKey string            `json:"identity_key"`
	SourceID    string            `json:"source_id"`
	ProductID   string            `json:"product_id,omitempty"`
	SKU         string            `json:"sku"`
	Title       string            `json:"title,omitempty"`
	URL         string            `json:"url,omitempty"`
	ObservedAt  time.Time         `json:"observed_at"`
	Kind        Kind              `json:"kind"`
	Price       *decimal.Decimal  `json:"price,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	Available   bool              `json:"available"`
	Tags        []string          `json:"tags,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Fingerprint string            `json:"raw_fingerprint"`
}

// WithKind returns a copy of the event carrying kind k.
func (e InventoryEvent) WithKind(k Kind) InventoryEvent {
	out := e
	out.Tags = slices.Clone(e.Tags)
	out.Attributes = maps.Clone(e.Attributes)
	if e.Price != nil {
		p := *e.Price
		out.Price = &p
	}
	out.Kind = k
	return out
}

// HasPrice reports whether the event carries a price.
func (e InventoryEvent) HasPrice() bool { return e.Price != nil }
