package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/albapepper/stockwatch/internal/config"
	"github.com/albapepper/stockwatch/internal/dispatch"
	"github.com/albapepper/stockwatch/internal/rules"
	"github.com/albapepper/stockwatch/internal/timeline"
)

func memoryConfig(sources ...config.SourceConfig) *config.Config {
	return &config.Config{
		StorageBackend:        "memory",
		DedupBackend:          "memory",
		DispatchBackend:       "log",
		DispatchInterval:      time.Second,
		DispatchBatchSize:     10,
		DispatchMaxAttempts:   5,
		DispatchBaseBackoff:   time.Second,
		DispatchMaxBackoff:    time.Minute,
		MilestoneThresholds:   []int{30, 14, 7, 1, 0},
		ImminentDays:          7,
		ArchiveGraceDays:      14,
		DigestEnabled:         true,
		DigestHorizonDays:     90,
		MinPollInterval:       time.Minute,
		DefaultPollInterval:   5 * time.Minute,
		PollTimeout:           5 * time.Second,
		ReleaseSyncInterval:   time.Hour,
		TimelineCheckInterval: time.Hour,
		OutboxCleanupEnabled:  true,
		OutboxRetention:       24 * time.Hour,
		Sources:               sources,
	}
}

func TestBuildEndToEndOnMemory(t *testing.T) {
	inventory := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"store":"LGS","products":[{"sku":"MH3-CB","name":"MH3 Collector Box","price":"279.99","available":true,"tags":["mh3"]}]}`))
	}))
	defer inventory.Close()

	release := time.Now().UTC().AddDate(0, 0, 10).Format(time.DateOnly)
	sets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"code":"MH3","name":"Modern Horizons 3","set_type":"masters","released_at":"` + release + `"}]}`))
	}))
	defer sets.Close()

	cfg := memoryConfig(
		config.SourceConfig{ID: "lgs", Kind: config.SourceKindFeed, URLs: []string{inventory.URL}},
		config.SourceConfig{ID: "scryfall", Kind: config.SourceKindScryfall, URLs: []string{sets.URL}},
		config.SourceConfig{ID: "tcg", Kind: config.SourceKindTCGPlayer, SKUs: []string{"1"}},
	)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	a, err := Build(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	if len(a.Adapters) != 1 || len(a.ReleaseAdapters) != 1 {
		t.Fatalf("expected feed adapter and scryfall adapter (tcgplayer skipped without keys), got %d/%d",
			len(a.Adapters), len(a.ReleaseAdapters))
	}

	if _, err := a.Rules.Add(ctx, rules.WatchRule{Owner: "alice", Tags: []string{"mh3"}}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	ad, _ := a.Adapter("lgs")
	res, err := a.Pipeline.Poll(ctx, ad)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Decisions != 1 {
		t.Fatalf("expected one decision, got %s", res.Summary())
	}

	now := time.Now().UTC()
	sync := a.SyncReleases(ctx, now)
	if sync.Created != 1 || len(sync.Errors) != 0 {
		t.Fatalf("unexpected sync %s", sync.Summary())
	}
	check := a.Tracker.Check(ctx, now)
	if check.Fired != 2 { // announced + t_minus_14
		t.Fatalf("expected announced and nearest threshold, got %s", check.Summary())
	}
	rel, _ := a.Tracker.Store().Get(ctx, "mh3")
	if rel == nil || !rel.HasFired(timeline.ThresholdKind(14)) {
		t.Fatalf("expected t_minus_14 recorded, got %+v", rel)
	}

	p, err := a.SendDigest(ctx, now)
	if err != nil {
		t.Fatalf("send digest: %v", err)
	}
	if len(p.Releases) != 1 || p.Releases[0].ReleaseID != "mh3" {
		t.Fatalf("unexpected digest %+v", p)
	}

	batch, err := a.Dispatcher.DispatchBatch(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	// decision + 2 milestones + digest
	if batch.Sent != 4 {
		t.Fatalf("expected 4 envelopes delivered, got %+v", batch)
	}
	if ob, ok := a.Dispatcher.Outbox().(*dispatch.MemoryOutbox); !ok || len(ob.Pending()) != 0 {
		t.Fatal("expected empty memory outbox")
	}
}

func TestTasks(t *testing.T) {
	inventory := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"products":[]}`))
	}))
	defer inventory.Close()

	cfg := memoryConfig(config.SourceConfig{ID: "lgs", Kind: config.SourceKindFeed, URLs: []string{inventory.URL}, IntervalMinutes: 0})
	a, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	names := map[string]time.Duration{}
	for _, task := range a.Tasks() {
		names[task.Name] = task.Interval
	}
	for _, want := range []string{"poll:lgs", "timeline-check", "digest", "outbox-cleanup"} {
		if _, ok := names[want]; !ok {
			t.Errorf("missing task %s in %v", want, names)
		}
	}
	if names["poll:lgs"] != 5*time.Minute {
		t.Errorf("poll interval = %s, want default 5m", names["poll:lgs"])
	}
	if _, ok := names["release-sync"]; ok {
		t.Error("release sync scheduled without a release source")
	}
}

func TestUnknownBackendsFail(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := memoryConfig()
	cfg.DedupBackend = "memcached"
	if _, err := Build(context.Background(), cfg, logger); err == nil {
		t.Fatal("expected unknown dedup backend to fail")
	}

	cfg = memoryConfig()
	cfg.DedupBackend = "postgres"
	if _, err := Build(context.Background(), cfg, logger); err == nil {
		t.Fatal("expected postgres dedup without a database to fail")
	}

	cfg = memoryConfig()
	cfg.DispatchBackend = "smtp"
	if _, err := Build(context.Background(), cfg, logger); err == nil {
		t.Fatal("expected unknown dispatch backend to fail")
	}
}
