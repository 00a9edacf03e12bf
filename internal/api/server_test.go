package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/albapepper/stockwatch/internal/api/handler"
	"github.com/albapepper/stockwatch/internal/cache"
	"github.com/albapepper/stockwatch/internal/config"
	"github.com/albapepper/stockwatch/internal/digest"
	"github.com/albapepper/stockwatch/internal/dispatch"
	"github.com/albapepper/stockwatch/internal/rules"
	"github.com/albapepper/stockwatch/internal/timeline"
)

type failingDB struct{}

func (failingDB) HealthCheck(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	srv     *httptest.Server
	tracker *timeline.Tracker
	rules   *rules.Service
}

func newTestServer(t *testing.T, mutate func(*handler.Deps, *config.Config)) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	releases := timeline.NewMemoryStore()
	dispatcher := dispatch.New(dispatch.NewMemoryOutbox(), dispatch.NewLogGateway(logger), dispatch.DefaultOptions(), logger)
	tracker := timeline.NewTracker(releases, dispatcher, timeline.DefaultOptions(), logger)
	ruleSvc := rules.NewService(rules.NewMemoryStore(), rules.NewEngine(logger), logger)

	deps := handler.Deps{
		Cache:    cache.New(true),
		Rules:    ruleSvc,
		Tracker:  tracker,
		Digest:   digest.NewAggregator(releases),
		Dispatch: dispatcher,
	}
	cfg := &config.Config{CORSAllowOrigins: []string{"*"}}
	if mutate != nil {
		mutate(&deps, cfg)
	}

	srv := httptest.NewServer(NewRouter(deps, cfg, logger))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, tracker: tracker, rules: ruleSvc}
}

func (s *testServer) do(t *testing.T, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Process-Time") == "" {
		t.Fatalf("unexpected /health response %d %v", resp.StatusCode, resp.Header)
	}

	var db map[string]any
	resp = s.do(t, http.MethodGet, "/health/db", "", nil)
	decode(t, resp, &db)
	if db["database"] != "memory" {
		t.Fatalf("expected memory database, got %v", db)
	}

	var pipe map[string]any
	resp = s.do(t, http.MethodGet, "/health/pipeline", "", nil)
	decode(t, resp, &pipe)
	if _, ok := pipe["dispatch"]; !ok {
		t.Fatalf("expected dispatch counters, got %v", pipe)
	}
}

func TestHealthDBUnavailable(t *testing.T) {
	s := newTestServer(t, func(d *handler.Deps, _ *config.Config) { d.DB = failingDB{} })
	resp := s.do(t, http.MethodGet, "/health/db", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestRulesCRUD(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.do(t, http.MethodPost, "/api/v1/rules",
		`{"owner":"alice","tags":["MH3"],"price_cap":"250.00","preferred_vendors":["Desert-Dragon"]}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created rules.WatchRule
	decode(t, resp, &created)
	if created.ID == "" || created.Tags[0] != "mh3" || created.Action != rules.ActionNotify {
		t.Fatalf("rule not normalized: %+v", created)
	}
	if s.rules.Engine().Len() != 1 {
		t.Fatal("engine not reloaded after create")
	}

	var list struct {
		Rules []rules.WatchRule `json:"rules"`
		Count int               `json:"count"`
	}
	decode(t, s.do(t, http.MethodGet, "/api/v1/rules?owner=alice", "", nil), &list)
	if list.Count != 1 {
		t.Fatalf("expected 1 rule for alice, got %d", list.Count)
	}
	decode(t, s.do(t, http.MethodGet, "/api/v1/rules?owner=bob", "", nil), &list)
	if list.Count != 0 {
		t.Fatalf("expected 0 rules for bob, got %d", list.Count)
	}

	if resp := s.do(t, http.MethodDelete, "/api/v1/rules/"+created.ID, "", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodDelete, "/api/v1/rules/"+created.ID, "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.StatusCode)
	}
}

func TestCreateRuleRejectsInvalid(t *testing.T) {
	s := newTestServer(t, nil)
	for _, body := range []string{`{"tags":["mh3"]}`, `not json`, `{"owner":"a","price_cap":"-1"}`} {
		if resp := s.do(t, http.MethodPost, "/api/v1/rules", body, nil); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestUpcomingETagAndInvalidation(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, info := range []timeline.ReleaseInfo{
		{ID: "far", Name: "Far", Dates: map[timeline.DateKind]time.Time{timeline.DateRelease: now.AddDate(0, 0, 60)}},
		{ID: "soon", Name: "Soon", Dates: map[timeline.DateKind]time.Time{timeline.DateRelease: now.AddDate(0, 0, 5)}},
		{ID: "unknown", Name: "Unknown"},
	} {
		if _, _, err := s.tracker.Observe(ctx, info, now); err != nil {
			t.Fatalf("observe %s: %v", info.ID, err)
		}
	}

	resp := s.do(t, http.MethodGet, "/api/v1/releases/upcoming", "", nil)
	var payload digest.Payload
	decode(t, resp, &payload)
	var ids []string
	for _, r := range payload.Releases {
		ids = append(ids, r.ReleaseID)
	}
	if strings.Join(ids, ",") != "soon,far,unknown" {
		t.Fatalf("unexpected order %v", ids)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" || resp.Header.Get("X-Cache") != "MISS" {
		t.Fatalf("expected fresh response with etag, got %v", resp.Header)
	}

	resp = s.do(t, http.MethodGet, "/api/v1/releases/upcoming", "", map[string]string{"If-None-Match": etag})
	if resp.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", resp.StatusCode)
	}

	// Pull "far" inside 30 days; the cached listing must not survive.
	resp = s.do(t, http.MethodPut, "/api/v1/releases/far/dates",
		`{"release":"`+now.AddDate(0, 0, 2).Format(time.DateOnly)+`"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on correction, got %d", resp.StatusCode)
	}

	resp = s.do(t, http.MethodGet, "/api/v1/releases/upcoming", "", map[string]string{"If-None-Match": etag})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected new listing after correction, got %d", resp.StatusCode)
	}
	decode(t, resp, &payload)
	if payload.Releases[0].ReleaseID != "far" {
		t.Fatalf("expected corrected release first, got %s", payload.Releases[0].ReleaseID)
	}

	resp = s.do(t, http.MethodGet, "/api/v1/releases/upcoming?days=30", "", nil)
	decode(t, resp, &payload)
	if len(payload.Releases) != 3 || payload.HorizonDays != 30 {
		t.Fatalf("expected 3 releases within 30 days (2 dated, 1 undated), got %+v", payload)
	}

	if resp := s.do(t, http.MethodGet, "/api/v1/releases/upcoming?days=abc", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad days, got %d", resp.StatusCode)
	}
}

func TestUpcomingRefreshedByScheduledWork(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	resp := s.do(t, http.MethodGet, "/api/v1/releases/upcoming", "", nil)
	var payload digest.Payload
	decode(t, resp, &payload)
	if len(payload.Releases) != 0 {
		t.Fatalf("expected empty listing, got %+v", payload.Releases)
	}
	etag := resp.Header.Get("ETag")

	// A release sync outside the HTTP path must not leave the listing stale.
	res := s.tracker.Sync(ctx, []timeline.ReleaseInfo{
		{ID: "dft", Name: "Aetherdrift", Dates: map[timeline.DateKind]time.Time{timeline.DateRelease: now.AddDate(0, 0, 3)}},
	}, now)
	if res.Created != 1 {
		t.Fatalf("unexpected sync %s", res.Summary())
	}

	resp = s.do(t, http.MethodGet, "/api/v1/releases/upcoming", "", map[string]string{"If-None-Match": etag})
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Cache") != "MISS" {
		t.Fatalf("expected a fresh listing after sync, got %d %v", resp.StatusCode, resp.Header)
	}
	decode(t, resp, &payload)
	if len(payload.Releases) != 1 || payload.Releases[0].State != timeline.StateReleaseImminent {
		t.Fatalf("unexpected listing %+v", payload.Releases)
	}

	// Cache the single release, then let the check move it to released.
	s.do(t, http.MethodGet, "/api/v1/releases/dft", "", nil).Body.Close()
	if check := s.tracker.Check(ctx, now.AddDate(0, 0, 3)); check.Transitions != 1 {
		t.Fatalf("expected a transition, got %s", check.Summary())
	}
	resp = s.do(t, http.MethodGet, "/api/v1/releases/dft", "", nil)
	var rel timeline.Release
	decode(t, resp, &rel)
	if rel.State != timeline.StateReleased {
		t.Fatalf("expected released state after check, got %s", rel.State)
	}
}

func TestReleaseLookupAndCorrectionErrors(t *testing.T) {
	s := newTestServer(t, nil)
	now := time.Now().UTC()
	s.tracker.Observe(context.Background(), timeline.ReleaseInfo{ID: "dsk", Name: "Duskmourn"}, now)

	var rel timeline.Release
	resp := s.do(t, http.MethodGet, "/api/v1/releases/dsk", "", nil)
	decode(t, resp, &rel)
	if rel.ID != "dsk" || rel.Name != "Duskmourn" {
		t.Fatalf("unexpected release %+v", rel)
	}

	if resp := s.do(t, http.MethodGet, "/api/v1/releases/nope", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodPut, "/api/v1/releases/nope/dates", `{"release":"2026-01-01"}`, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown release, got %d", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodPut, "/api/v1/releases/dsk/dates", `{"release":"01/02/2026"}`, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodPut, "/api/v1/releases/dsk/dates", `{}`, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty correction, got %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(_ *handler.Deps, cfg *config.Config) {
		cfg.RateLimitEnabled = true
		cfg.RateLimitRequests = 2
		cfg.RateLimitWindow = time.Hour
	})

	// Burst is half the window allowance.
	if resp := s.do(t, http.MethodGet, "/health", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("first request: %d", resp.StatusCode)
	}
	resp := s.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") != "3600" {
		t.Fatalf("expected 429 with Retry-After, got %d %q", resp.StatusCode, resp.Header.Get("Retry-After"))
	}
}
