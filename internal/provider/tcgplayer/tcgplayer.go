// Package tcgplayer polls TCGplayer SKU pricing for a configured whitelist.
package tcgplayer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/albapepper/stockwatch/internal/provider"
	"github.com/albapepper/stockwatch/internal/source"
)

// DefaultBaseURL is the public TCGplayer API root.
const DefaultBaseURL = "https://api.tcgplayer.com"

// Tokens are refreshed this long before the upstream expiry.
const tokenSlack = 30 * time.Second

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type skuPrice struct {
	SKUID              any    `json:"skuId"`
	ProductID          any    `json:"productId"`
	ProductName        string `json:"productName"`
	ProductURL         string `json:"productUrl"`
	MarketPrice        any    `json:"marketPrice"`
	DirectLowPrice     any    `json:"directLowPrice"`
	LowestListingPrice any    `json:"lowestListingPrice"`
	Quantity           *int   `json:"quantity"`
	Printing           string `json:"printing"`
	Condition          string `json:"condition"`
	Language           string `json:"language"`
	SetCode            string `json:"setCode"`
	Number             string `json:"number"`
	CurrencyCode       string `json:"currencyCode"`
}

type pricingResponse struct {
	Results []skuPrice `json:"results"`
}

// Adapter polls the pricing endpoint once per whitelisted SKU.
type Adapter struct {
	id         string
	baseURL    string
	publicKey  string
	privateKey string
	skus       []string
	tags       []string
	client     *provider.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
	now    func() time.Time
}

// New creates a TCGplayer Adapter. An empty baseURL uses DefaultBaseURL.
func New(id, baseURL, publicKey, privateKey string, skus, tags []string, client *provider.Client) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	var clean []string
	for _, s := range skus {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	return &Adapter{
		id:         id,
		baseURL:    strings.TrimRight(baseURL, "/"),
		publicKey:  publicKey,
		privateKey: privateKey,
		skus:       clean,
		tags:       tags,
		client:     client,
		now:        time.Now,
	}
}

func (a *Adapter) ID() string { return a.id }

// Poll fetches pricing for every SKU. SKUs the API does not know are
// skipped; any other failure fails the poll.
func (a *Adapter) Poll(ctx context.Context) ([]source.RawObservation, error) {
	if len(a.skus) == 0 {
		return nil, nil
	}
	token, err := a.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{"Authorization": "bearer " + token}
	out := make([]source.RawObservation, 0, len(a.skus))
	for _, sku := range a.skus {
		var resp pricingResponse
		err := a.client.GetJSON(ctx, a.baseURL+"/pricing/sku/"+url.PathEscape(sku), headers, &resp)
		var se *provider.StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetch sku %s: %w", sku, err)
		}
		if len(resp.Results) == 0 {
			continue
		}
		out = append(out, a.observation(sku, resp.Results[0]))
	}
	return out, nil
}

func (a *Adapter) observation(sku string, p skuPrice) source.RawObservation {
	vendorSKU := idString(p.SKUID, sku)
	productID := idString(p.ProductID, "")

	obs := source.RawObservation{
		SourceID:  a.id,
		SKU:       vendorSKU,
		ProductID: productID,
		Title:     p.ProductName,
		URL:       p.ProductURL,
		Currency:  p.CurrencyCode,
		Tags:      a.tags,
		FetchedAt: a.now().UTC(),
		Attributes: map[string]string{
			"finish": "any",
		},
	}
	if obs.Title == "" {
		obs.Title = "TCG SKU " + sku
	}
	if obs.URL == "" && productID != "" {
		obs.URL = "https://www.tcgplayer.com/product/" + productID
	}
	if price, ok := provider.FirstPrice(p.MarketPrice, p.DirectLowPrice, p.LowestListingPrice); ok {
		obs.Price = price
	}

	qty := 0
	if p.Quantity != nil {
		qty = *p.Quantity
	}
	obs.Quantity = source.Int(qty)

	if p.Printing != "" {
		obs.Attributes["finish"] = strings.ToLower(p.Printing)
	}
	if p.Condition != "" {
		obs.Attributes["condition"] = strings.ToLower(p.Condition)
	}
	if p.Language != "" {
		obs.Attributes["language"] = strings.ToLower(p.Language)
	}
	if p.SetCode != "" {
		obs.Attributes["set"] = strings.ToLower(p.SetCode)
	}
	if p.Number != "" {
		obs.Attributes["collector_number"] = p.Number
	}
	return obs
}

// ensureToken returns the cached bearer token, requesting a new one with
// client credentials once it is close to expiry.
func (a *Adapter) ensureToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.token != "" && now.Before(a.expiry) {
		return a.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {a.publicKey},
		"client_secret": {a.privateKey},
	}
	var resp tokenResponse
	if err := a.client.PostForm(ctx, a.baseURL+"/token", form, &resp); err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("authenticate: %w: response missing access_token", source.ErrUpstreamUnavailable)
	}
	a.token = resp.AccessToken
	a.expiry = now.Add(time.Duration(resp.ExpiresIn)*time.Second - tokenSlack)
	return a.token, nil
}

func idString(v any, fallback string) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		if x != "" {
			return x
		}
	}
	return fallback
}
