package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/stockwatch/internal/api/respond"
	"github.com/albapepper/stockwatch/internal/cache"
	"github.com/albapepper/stockwatch/internal/digest"
	"github.com/albapepper/stockwatch/internal/timeline"
)

// Cache key prefixes. Any stored release change invalidates both.
const (
	upcomingKeyPrefix = "upcoming:"
	releaseKeyPrefix  = "release:"
)

// GetUpcoming lists releases inside the horizon, soonest first, followed by
// releases with no known date.
// @Summary Upcoming releases
// @Description Same ordering as the daily digest. Responses carry an ETag and honor If-None-Match.
// @Tags releases
// @Produce json
// @Param days query int false "Horizon in days (default 90, max 365)"
// @Success 200 {object} digest.Payload
// @Success 304
// @Failure 400 {object} respond.ErrorResponse
// @Router /releases/upcoming [get]
func (h *Handler) GetUpcoming(w http.ResponseWriter, r *http.Request) {
	horizon := h.HorizonDays
	if s := r.URL.Query().Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidDays, "days must be a positive integer")
			return
		}
		horizon = n
	}
	horizon = digest.ClampHorizon(horizon)

	cacheKey := fmt.Sprintf("%s%d", upcomingKeyPrefix, horizon)
	ttl := cache.TTLUpcoming
	if data, etag, ok := h.Cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, ttl, true)
		return
	}

	now := time.Now().UTC()
	list, err := h.Digest.Upcoming(r.Context(), now, horizon)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, respond.CodeInternal, "Failed to list releases")
		return
	}
	if list == nil {
		list = []digest.Summary{}
	}
	data, err := json.Marshal(digest.Payload{GeneratedAt: now, HorizonDays: horizon, Releases: list})
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, respond.CodeInternal, "Failed to encode releases")
		return
	}

	etag := h.Cache.Set(cacheKey, data, ttl)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, data, etag, ttl, false)
}

// GetRelease returns one tracked release with its firing history.
// @Summary Get release
// @Tags releases
// @Produce json
// @Param releaseID path string true "Release ID (lowercase set code)"
// @Success 200 {object} timeline.Release
// @Failure 404 {object} respond.ErrorResponse
// @Router /releases/{releaseID} [get]
func (h *Handler) GetRelease(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "releaseID")
	cacheKey := releaseKeyPrefix + id
	ttl := cache.TTLRelease

	if data, etag, ok := h.Cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, ttl, true)
		return
	}

	rel, err := h.Tracker.Store().Get(r.Context(), id)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, respond.CodeInternal, "Failed to load release")
		return
	}
	if rel == nil {
		respond.WriteError(w, http.StatusNotFound, respond.CodeNotFound, "No release "+id)
		return
	}
	data, err := json.Marshal(rel)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, respond.CodeInternal, "Failed to encode release")
		return
	}
	etag := h.Cache.Set(cacheKey, data, ttl)
	respond.WriteJSON(w, data, etag, ttl, false)
}

// DatesRequest is the body of a date correction. Each field is a UTC
// calendar date (YYYY-MM-DD); omitted fields are left unchanged.
type DatesRequest struct {
	Announcement string `json:"announcement,omitempty"`
	Preorder     string `json:"preorder,omitempty"`
	Release      string `json:"release,omitempty"`
}

func (d DatesRequest) parse() (map[timeline.DateKind]time.Time, error) {
	out := make(map[timeline.DateKind]time.Time)
	for kind, raw := range map[timeline.DateKind]string{
		timeline.DateAnnouncement: d.Announcement,
		timeline.DatePreorder:     d.Preorder,
		timeline.DateRelease:      d.Release,
	} {
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, fmt.Errorf("%s date %q: want YYYY-MM-DD", kind, raw)
		}
		out[kind] = t
	}
	if len(out) == 0 {
		return nil, errors.New("at least one date is required")
	}
	return out, nil
}

// CorrectDates applies a date correction. Milestones are re-evaluated on the
// next timeline check against the corrected date.
// @Summary Correct release dates
// @Tags releases
// @Accept json
// @Produce json
// @Param releaseID path string true "Release ID"
// @Param dates body DatesRequest true "Corrected dates"
// @Success 200 {object} timeline.Release
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Failure 409 {object} respond.ErrorResponse
// @Router /releases/{releaseID}/dates [put]
func (h *Handler) CorrectDates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "releaseID")

	var req DatesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, respond.CodeInvalidBody, "Request body must be JSON", err.Error())
		return
	}
	dates, err := req.parse()
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, respond.CodeInvalidDates, "Dates are invalid", err.Error())
		return
	}

	rel, err := h.Tracker.Correct(r.Context(), id, dates, time.Now().UTC())
	if err != nil {
		respond.WriteDomainError(w, err, "Failed to correct release")
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, rel)
}

// invalidateRelease drops cached listings touching a release. Registered on
// the tracker, so scheduled syncs and checks clear the cache too.
func (h *Handler) invalidateRelease(id string) {
	h.Cache.Invalidate(upcomingKeyPrefix)
	h.Cache.Invalidate(releaseKeyPrefix + id)
}
