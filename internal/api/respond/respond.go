// Package respond provides shared JSON response utilities for the rules and
// releases API.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/albapepper/stockwatch/internal/rules"
	"github.com/albapepper/stockwatch/internal/timeline"
)

// Error codes returned in ErrorResponse.
const (
	CodeInvalidBody  = "INVALID_BODY"
	CodeInvalidRule  = "INVALID_RULE"
	CodeInvalidDates = "INVALID_DATES"
	CodeInvalidDays  = "INVALID_DAYS"
	CodeNotFound     = "NOT_FOUND"
	CodeArchived     = "ARCHIVED"
	CodeConflict     = "CONFLICT"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_ERROR"
)

// ErrorResponse is the standard error shape for all API errors.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Detail  string `json:"detail,omitempty"`
	} `json:"error"`
}

// WriteJSON writes pre-encoded JSON with cache and ETag headers.
func WriteJSON(w http.ResponseWriter, data []byte, etag string, ttl time.Duration, cacheHit bool) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	w.Header().Set("Vary", "Accept-Encoding")
	setCacheHeaders(w, ttl, cacheHit)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// WriteNotModified sends a 304 with the matching ETag.
func WriteNotModified(w http.ResponseWriter, etag string) {
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusNotModified)
}

// WriteError sends a structured JSON error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteErrorDetail(w, status, code, message, "")
}

// WriteErrorDetail sends a structured error with additional detail.
func WriteErrorDetail(w http.ResponseWriter, status int, code, message, detail string) {
	resp := ErrorResponse{}
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.Detail = detail
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteDomainError maps a rules or timeline sentinel error to its status
// and code. Anything unrecognized is a 500 carrying fallback as the message;
// internal detail is never exposed.
func WriteDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, rules.ErrInvalidRule):
		WriteErrorDetail(w, http.StatusBadRequest, CodeInvalidRule, "Watch rule is invalid", err.Error())
	case errors.Is(err, rules.ErrNotFound), errors.Is(err, timeline.ErrNotFound):
		WriteErrorDetail(w, http.StatusNotFound, CodeNotFound, "Not found", err.Error())
	case errors.Is(err, timeline.ErrArchived):
		WriteErrorDetail(w, http.StatusConflict, CodeArchived, "Release is archived", err.Error())
	case errors.Is(err, timeline.ErrStateConflict):
		WriteErrorDetail(w, http.StatusConflict, CodeConflict, "Release is being updated, retry", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, CodeInternal, fallback)
	}
}

// WriteJSONObject marshals a Go value to JSON and writes it.
func WriteJSONObject(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func setCacheHeaders(w http.ResponseWriter, ttl time.Duration, cacheHit bool) {
	maxAge := int(ttl.Seconds())
	if cacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("Cache-Control",
		fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d", maxAge, maxAge/2))
}
