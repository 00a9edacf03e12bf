package tcgplayer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/albapepper/stockwatch/internal/provider"
	"github.com/albapepper/stockwatch/internal/source"
)

type fakeAPI struct {
	tokens   atomic.Int32
	failSKUs bool
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			t.Errorf("unexpected token request form %v", r.PostForm)
		}
		f.tokens.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("GET /pricing/sku/{sku}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if f.failSKUs {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		switch r.PathValue("sku") {
		case "111":
			w.Write([]byte(`{"results":[{"skuId":111,"productId":5001,"productName":"Ragavan","marketPrice":null,"directLowPrice":72.5,"quantity":3,"printing":"Foil"}]}`))
		case "222":
			w.Write([]byte(`{"results":[]}`))
		default:
			http.NotFound(w, r)
		}
	})
	return mux
}

func newAdapter(t *testing.T, api *fakeAPI, skus ...string) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return New("tcgplayer", srv.URL, "pub", "priv", skus, []string{"singles"}, provider.NewClient(0, time.Second, nil)), srv
}

func TestPollMapsPricing(t *testing.T) {
	api := &fakeAPI{}
	a, _ := newAdapter(t, api, "111", "222", "333")

	raws, err := a.Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("expected 1 observation (empty and unknown skus skipped), got %d", len(raws))
	}
	got := raws[0]
	if got.SKU != "111" || got.ProductID != "5001" || got.Price != "72.5" {
		t.Fatalf("unexpected observation %+v", got)
	}
	if got.Quantity == nil || *got.Quantity != 3 || got.Attributes["finish"] != "foil" {
		t.Fatalf("unexpected availability or finish %+v", got)
	}
	if got.URL != "https://www.tcgplayer.com/product/5001" {
		t.Fatalf("unexpected url %q", got.URL)
	}
}

func TestTokenIsCachedUntilExpiry(t *testing.T) {
	api := &fakeAPI{}
	a, _ := newAdapter(t, api, "111")
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := a.Poll(ctx); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}
	if n := api.tokens.Load(); n != 1 {
		t.Fatalf("expected one token request, got %d", n)
	}

	// Inside the refresh slack the token is renewed.
	clock = clock.Add(time.Hour - 10*time.Second)
	if _, err := a.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n := api.tokens.Load(); n != 2 {
		t.Fatalf("expected token refresh, got %d requests", n)
	}
}

func TestUpstreamErrorFailsPoll(t *testing.T) {
	api := &fakeAPI{failSKUs: true}
	a, _ := newAdapter(t, api, "111")

	raws, err := a.Poll(context.Background())
	if !errors.Is(err, source.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if raws != nil {
		t.Fatal("expected no observations on failure")
	}
}

func TestNoSKUsIsANoop(t *testing.T) {
	api := &fakeAPI{}
	a, _ := newAdapter(t, api)
	raws, err := a.Poll(context.Background())
	if err != nil || len(raws) != 0 || api.tokens.Load() != 0 {
		t.Fatalf("expected noop, got %d raws err=%v tokens=%d", len(raws), err, api.tokens.Load())
	}
}
