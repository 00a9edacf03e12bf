package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Source kinds with a built-in adapter.
const (
	SourceKindFeed      = "feed"
	SourceKindTCGPlayer = "tcgplayer"
	SourceKindScryfall  = "scryfall"
)

// SourceConfig describes one upstream source. Loaded from SOURCES_FILE.
type SourceConfig struct {
	ID              string        `mapstructure:"id"`
	Kind            string        `mapstructure:"kind"`
	URLs            []string      `mapstructure:"urls"`
	SKUs            []string      `mapstructure:"skus"`
	Tags            []string      `mapstructure:"tags"`
	IntervalMinutes int           `mapstructure:"interval_minutes"`
	RequestsPerMin  int           `mapstructure:"requests_per_minute"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	Noisy           bool          `mapstructure:"noisy"`
	Disabled        bool          `mapstructure:"disabled"`
}

type sourcesFile struct {
	Sources []SourceConfig `mapstructure:"sources"`
}

// LoadSources reads the per-source settings file. The format follows the
// file extension (yaml, json, toml).
//
//	sources:
//	  - id: phoenix_lgs
//	    kind: feed
//	    urls: ["https://example.com/feed.json"]
//	    interval_minutes: 10
//	    noisy: true
func LoadSources(path string) ([]SourceConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var f sourcesFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	seen := make(map[string]bool)
	out := make([]SourceConfig, 0, len(f.Sources))
	for i, s := range f.Sources {
		s.ID = strings.ToLower(strings.TrimSpace(s.ID))
		s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
		if s.ID == "" {
			return nil, fmt.Errorf("source #%d: id is required", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("source %q declared twice", s.ID)
		}
		seen[s.ID] = true
		switch s.Kind {
		case SourceKindFeed, SourceKindTCGPlayer, SourceKindScryfall:
		default:
			return nil, fmt.Errorf("source %q: unknown kind %q", s.ID, s.Kind)
		}
		if s.Disabled {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
