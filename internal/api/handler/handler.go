// Package handler provides HTTP handlers for all API endpoints. Handlers
// call the domain services directly; there is no separate service layer.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/albapepper/stockwatch/internal/api/respond"
	"github.com/albapepper/stockwatch/internal/cache"
	"github.com/albapepper/stockwatch/internal/dedup"
	"github.com/albapepper/stockwatch/internal/digest"
	"github.com/albapepper/stockwatch/internal/dispatch"
	"github.com/albapepper/stockwatch/internal/pipeline"
	"github.com/albapepper/stockwatch/internal/rules"
	"github.com/albapepper/stockwatch/internal/timeline"
)

// HealthChecker verifies backing storage. *db.Pool satisfies it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the services the handlers serve. DB is nil on the memory backend.
type Deps struct {
	DB          HealthChecker
	Cache       *cache.Cache
	Rules       *rules.Service
	Tracker     *timeline.Tracker
	Digest      *digest.Aggregator
	HorizonDays int
	Pipeline    *pipeline.Pipeline
	Dedup       *dedup.Deduplicator
	Dispatch    *dispatch.Dispatcher
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	Deps
}

// New creates a Handler.
func New(deps Deps) *Handler {
	if deps.HorizonDays <= 0 {
		deps.HorizonDays = digest.DefaultHorizonDays
	}
	h := &Handler{Deps: deps}
	if deps.Tracker != nil && deps.Cache != nil {
		deps.Tracker.OnChange(h.invalidateRelease)
	}
	return h
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version, status and docs location.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"name":    "stockwatch",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies Postgres connectivity. Reports "memory" when running without a database.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)
	if h.DB == nil {
		respond.WriteJSONObject(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"database":  "memory",
			"timestamp": now,
		})
		return
	}
	if err := h.DB.HealthCheck(r.Context()); err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": now,
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": now,
	})
}

// HealthCheckPipeline reports the event path and delivery counters.
// @Summary Pipeline health
// @Description Returns cumulative pipeline, dedup and dispatch counters, the active rule count and cache statistics.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/pipeline [get]
func (h *Handler) HealthCheckPipeline(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.Pipeline != nil {
		body["pipeline"] = h.Pipeline.Stats()
	}
	if h.Dedup != nil {
		body["dedup"] = h.Dedup.Stats()
	}
	if h.Dispatch != nil {
		body["dispatch"] = h.Dispatch.Stats()
	}
	if h.Rules != nil {
		body["active_rules"] = h.Rules.Engine().Len()
	}
	if h.Cache != nil {
		body["cache"] = h.Cache.Stats()
	}
	respond.WriteJSONObject(w, http.StatusOK, body)
}
