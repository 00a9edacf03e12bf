package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MILESTONE_THRESHOLDS", "")
	t.Setenv("DIGEST_AT", "")
	t.Setenv("DIGEST_HORIZON_DAYS", "")
	t.Setenv("SOURCES_FILE", "")
	t.Setenv("DEDUP_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg.MilestoneThresholds, []int{30, 14, 7, 1, 0}) {
		t.Fatalf("unexpected thresholds: %v", cfg.MilestoneThresholds)
	}
	if cfg.DigestHour != 15 || cfg.DigestMinute != 0 {
		t.Fatalf("unexpected digest clock %d:%d", cfg.DigestHour, cfg.DigestMinute)
	}
	if cfg.DigestHorizonDays != 90 {
		t.Fatalf("expected horizon 90, got %d", cfg.DigestHorizonDays)
	}
	if cfg.DedupBackend != "memory" {
		t.Fatalf("dedup backend should follow storage, got %s", cfg.DedupBackend)
	}
	if len(cfg.Cooldowns()) != 0 {
		t.Fatalf("expected no cool-downs by default")
	}
}

func TestLoadRequiresDatabaseForPostgres(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestThresholdsAndClockParsing(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("MILESTONE_THRESHOLDS", "7, 30,0,7")
	t.Setenv("DIGEST_AT", "08:30")
	t.Setenv("DIGEST_HORIZON_DAYS", "900")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg.MilestoneThresholds, []int{30, 7, 0}) {
		t.Fatalf("unexpected thresholds: %v", cfg.MilestoneThresholds)
	}
	if cfg.DigestHour != 8 || cfg.DigestMinute != 30 {
		t.Fatalf("unexpected clock %d:%d", cfg.DigestHour, cfg.DigestMinute)
	}
	if cfg.DigestHorizonDays != 365 {
		t.Fatalf("horizon should clamp to 365, got %d", cfg.DigestHorizonDays)
	}

	t.Setenv("DIGEST_AT", "25:00")
	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid hour error")
	}
}

func TestPollIntervalFloor(t *testing.T) {
	cfg := &Config{MinPollInterval: 2 * time.Minute, DefaultPollInterval: 5 * time.Minute}
	if got := cfg.PollInterval(SourceConfig{IntervalMinutes: 1}); got != 2*time.Minute {
		t.Fatalf("expected floor 2m, got %s", got)
	}
	if got := cfg.PollInterval(SourceConfig{}); got != 5*time.Minute {
		t.Fatalf("expected default 5m, got %s", got)
	}
	if got := cfg.PollInterval(SourceConfig{IntervalMinutes: 12}); got != 12*time.Minute {
		t.Fatalf("expected 12m, got %s", got)
	}
}

func TestLoadSourcesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	body := `
sources:
  - id: Phoenix_LGS
    kind: feed
    urls: ["https://example.com/feed.json"]
    interval_minutes: 10
    noisy: true
  - id: ck
    kind: feed
    urls: ["https://example.com/ck.json"]
    cooldown: 45m
  - id: old
    kind: feed
    disabled: true
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	sources, err := LoadSources(path)
	if err != nil {
		t.Fatalf("load sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 enabled sources, got %d", len(sources))
	}
	if sources[0].ID != "phoenix_lgs" {
		t.Fatalf("expected lowercased id, got %s", sources[0].ID)
	}

	cfg := &Config{Sources: sources, NoisySourceCooldown: 15 * time.Minute}
	cd := cfg.Cooldowns()
	if cd["phoenix_lgs"] != 15*time.Minute {
		t.Fatalf("noisy source should get default cool-down, got %s", cd["phoenix_lgs"])
	}
	if cd["ck"] != 45*time.Minute {
		t.Fatalf("explicit cool-down expected, got %s", cd["ck"])
	}
}

func TestLoadSourcesRejectsUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.json")
	if err := os.WriteFile(path, []byte(`{"sources":[{"id":"x","kind":"ftp"}]}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSources(path); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
