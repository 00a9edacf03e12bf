package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/albapepper/stockwatch/internal/source"
)

func TestExtractPrice(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
		ok   bool
	}{
		{"float", 12.5, "12.5", true},
		{"int", 7, "7", true},
		{"number", json.Number("3.10"), "3.10", true},
		{"string", " $9.99 ", "$9.99", true},
		{"empty string", "", "", false},
		{"nested amount", map[string]any{"amount": 4.25, "currency": "USD"}, "4.25", true},
		{"nested market", map[string]any{"market": "1.00"}, "1.00", true},
		{"no known key", map[string]any{"foo": 1.0}, "", false},
		{"nil", nil, "", false},
		{"bool", true, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractPrice(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ExtractPrice(%v) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFirstPriceSkipsZeroAndMissing(t *testing.T) {
	got, ok := FirstPrice(nil, 0.0, "", 19.99)
	if !ok || got != "19.99" {
		t.Fatalf("FirstPrice = %q, %v", got, ok)
	}
	if _, ok := FirstPrice(nil, 0.0); ok {
		t.Fatal("expected no price")
	}
}

func TestGetJSONStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(0, time.Second, nil)
	var out map[string]any
	err := c.GetJSON(context.Background(), srv.URL, nil, &out)

	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound {
		t.Fatalf("expected StatusError 404, got %v", err)
	}
	if !errors.Is(err, source.ErrUpstreamUnavailable) {
		t.Fatal("StatusError should unwrap to ErrUpstreamUnavailable")
	}
}

func TestGetJSONDecodesAndSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Key") != "k" || r.Header.Get("User-Agent") != userAgent {
			http.Error(w, "bad headers", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(600, time.Second, nil)
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.GetJSON(context.Background(), srv.URL, map[string]string{"X-Key": "k"}, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !out.OK {
		t.Fatal("body not decoded")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate([]byte("abcdef"), 3); got != "abc..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate([]byte("ab"), 3); got != "ab" {
		t.Fatalf("truncate = %q", got)
	}
}
