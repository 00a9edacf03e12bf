// Package feed polls store inventory feeds: JSON documents of the form
// {"store": "...", "products": [{"id": ..., "price": ..., "available": ...}]}
// published by local game stores and small retailers.
package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/albapepper/stockwatch/internal/provider"
	"github.com/albapepper/stockwatch/internal/source"
)

type document struct {
	Store      string    `json:"store"`
	ContactURL string    `json:"contact_url"`
	Products   []product `json:"products"`
}

type product struct {
	ID        any      `json:"id"`
	SKU       string   `json:"sku"`
	ProductID string   `json:"product_id"`
	Name      string   `json:"name"`
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	Price     any      `json:"price"`
	Currency  string   `json:"currency"`
	Available *bool    `json:"available"`
	Quantity  *int     `json:"quantity"`
	Status    string   `json:"status"`
	Tags      []string `json:"tags"`
	Finish    string   `json:"finish"`
	Condition string   `json:"condition"`
	Language  string   `json:"language"`
	Edition   string   `json:"edition"`
	Preorder  bool     `json:"preorder"`
	Set       string   `json:"set"`
}

// Adapter polls one or more feed URLs for a single configured source.
type Adapter struct {
	id     string
	urls   []string
	tags   []string
	client *provider.Client
}

// New creates a feed Adapter. tags are added to every observation.
func New(id string, urls, tags []string, client *provider.Client) *Adapter {
	return &Adapter{id: id, urls: urls, tags: tags, client: client}
}

func (a *Adapter) ID() string { return a.id }

// Poll fetches every feed. Any fetch failure fails the whole poll so a
// partial snapshot is never processed.
func (a *Adapter) Poll(ctx context.Context) ([]source.RawObservation, error) {
	var out []source.RawObservation
	for _, u := range a.urls {
		var doc document
		if err := a.client.GetJSON(ctx, u, nil, &doc); err != nil {
			return nil, fmt.Errorf("fetch feed %s: %w", u, err)
		}
		fetched := time.Now().UTC()
		for _, p := range doc.Products {
			out = append(out, a.observation(u, doc, p, fetched))
		}
	}
	return out, nil
}

func (a *Adapter) observation(feedURL string, doc document, p product, fetched time.Time) source.RawObservation {
	id := identifier(p)
	obs := source.RawObservation{
		SourceID:  a.id,
		SKU:       id,
		ProductID: p.ProductID,
		Title:     firstNonEmpty(p.Name, p.Title, id),
		URL:       firstNonEmpty(p.URL, feedURL),
		Currency:  p.Currency,
		Available: p.Available,
		Quantity:  p.Quantity,
		Tags:      append(append([]string{}, a.tags...), p.Tags...),
		FetchedAt: fetched,
		Attributes: map[string]string{
			"store":       firstNonEmpty(doc.Store, a.id),
			"contact_url": firstNonEmpty(doc.ContactURL, p.URL, feedURL),
		},
	}
	if obs.ProductID == "" {
		obs.ProductID = p.SKU
	}
	if price, ok := provider.ExtractPrice(p.Price); ok {
		obs.Price = price
	}
	if strings.EqualFold(p.Status, "delisted") || strings.EqualFold(p.Status, "discontinued") {
		obs.KindHint = "delisted"
		obs.Available = source.Bool(false)
	}

	for k, v := range map[string]string{
		"finish":    p.Finish,
		"condition": p.Condition,
		"language":  p.Language,
		"edition":   p.Edition,
		"set":       p.Set,
	} {
		if v != "" {
			obs.Attributes[k] = v
		}
	}
	if p.Preorder {
		obs.Attributes["preorder"] = "true"
	}
	return obs
}

func identifier(p product) string {
	switch v := p.ID.(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return firstNonEmpty(p.SKU, p.Name, p.Title)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
