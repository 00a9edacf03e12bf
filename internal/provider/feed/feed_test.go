package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/albapepper/stockwatch/internal/normalize"
	"github.com/albapepper/stockwatch/internal/provider"
	"github.com/albapepper/stockwatch/internal/source"
)

const sampleFeed = `{
  "store": "Desert Dragon Games",
  "products": [
    {"id": 1042, "name": "MH3 Collector Booster Box", "price": "$289.99", "available": true, "tags": ["mh3", "sealed"], "finish": "nonfoil"},
    {"sku": "DSK-PLAY", "name": "Duskmourn Play Box", "price": {"amount": 129.5}, "quantity": 0, "preorder": true},
    {"sku": "OLD-BOX", "price": 10, "status": "discontinued"}
  ]
}`

func TestPollMapsProducts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	a := New("desert-dragon", []string{srv.URL}, []string{"lgs"}, provider.NewClient(0, time.Second, nil))
	raws, err := a.Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(raws) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(raws))
	}

	first := raws[0]
	if first.SKU != "1042" || first.Price != "$289.99" || first.Attributes["store"] != "Desert Dragon Games" {
		t.Fatalf("unexpected first observation %+v", first)
	}
	if len(first.Tags) != 3 || first.Tags[0] != "lgs" {
		t.Fatalf("expected configured tag plus product tags, got %v", first.Tags)
	}

	second := raws[1]
	if second.Price != "129.5" || second.Attributes["preorder"] != "true" {
		t.Fatalf("unexpected second observation %+v", second)
	}
	ev, err := normalize.Normalize(second)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Available {
		t.Fatal("quantity 0 should normalize to unavailable")
	}

	if raws[2].KindHint != "delisted" || *raws[2].Available {
		t.Fatalf("discontinued product should be a delisting, got %+v", raws[2])
	}
}

func TestPollFailureDiscardsPartialResults(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeed))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	a := New("x", []string{good.URL, bad.URL}, nil, provider.NewClient(0, time.Second, nil))
	raws, err := a.Poll(context.Background())
	if !errors.Is(err, source.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if raws != nil {
		t.Fatalf("expected partial results to be discarded, got %d", len(raws))
	}
}
