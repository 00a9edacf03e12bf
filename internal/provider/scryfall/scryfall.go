// Package scryfall reads the Scryfall set list as a release-date source.
package scryfall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/albapepper/stockwatch/internal/provider"
	"github.com/albapepper/stockwatch/internal/timeline"
)

// DefaultBaseURL is the public Scryfall API root.
const DefaultBaseURL = "https://api.scryfall.com"

// Sets released longer ago than this are ignored.
const lookback = 365 * 24 * time.Hour

// The set list is a few pages; stop following next_page after this many.
const maxPages = 50

// RelevantSetTypes are the set types tracked as product releases.
var RelevantSetTypes = map[string]bool{
	"expansion":        true,
	"core":             true,
	"masters":          true,
	"commander":        true,
	"draft_innovation": true,
	"planechase":       true,
	"starter":          true,
	"spellbook":        true,
	"alchemy":          true,
	"funny":            true,
	"box":              true,
	"token":            true,
	"minigame":         true,
	"promo":            true,
	"arsenal":          true,
}

type setList struct {
	Data     []set  `json:"data"`
	NextPage string `json:"next_page"`
}

type set struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	SetType     string `json:"set_type"`
	ReleasedAt  string `json:"released_at"`
	ScryfallURI string `json:"scryfall_uri"`
}

// Adapter implements source.ReleaseAdapter.
type Adapter struct {
	id      string
	baseURL string
	client  *provider.Client
	now     func() time.Time
}

// New creates a Scryfall adapter. An empty baseURL uses DefaultBaseURL.
func New(id, baseURL string, client *provider.Client) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{id: id, baseURL: strings.TrimRight(baseURL, "/"), client: client, now: time.Now}
}

func (a *Adapter) ID() string { return a.id }

// FetchReleases walks every page of /sets and returns the relevant,
// recent sets. Release dates are UTC calendar days.
func (a *Adapter) FetchReleases(ctx context.Context) ([]timeline.ReleaseInfo, error) {
	cutoff := timeline.Day(a.now().Add(-lookback))
	next := a.baseURL + "/sets"

	var out []timeline.ReleaseInfo
	for page := 0; next != "" && page < maxPages; page++ {
		var resp setList
		if err := a.client.GetJSON(ctx, next, nil, &resp); err != nil {
			return nil, fmt.Errorf("fetch sets page %d: %w", page+1, err)
		}
		for _, s := range resp.Data {
			info, ok := toRelease(s, cutoff)
			if ok {
				out = append(out, info)
			}
		}
		next = resp.NextPage
	}
	return out, nil
}

func toRelease(s set, cutoff time.Time) (timeline.ReleaseInfo, bool) {
	code := strings.ToLower(strings.TrimSpace(s.Code))
	if code == "" || !RelevantSetTypes[s.SetType] {
		return timeline.ReleaseInfo{}, false
	}
	info := timeline.ReleaseInfo{
		ID:      code,
		Name:    s.Name,
		Code:    code,
		SetType: s.SetType,
		URI:     s.ScryfallURI,
		Dates:   map[timeline.DateKind]time.Time{},
	}
	if s.ReleasedAt != "" {
		d, err := time.Parse(time.DateOnly, s.ReleasedAt)
		if err == nil {
			if d.Before(cutoff) {
				return timeline.ReleaseInfo{}, false
			}
			info.Dates[timeline.DateRelease] = d
		}
	}
	return info, true
}
