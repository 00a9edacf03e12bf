package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/stockwatch/internal/api/respond"
	"github.com/albapepper/stockwatch/internal/rules"
)

// ListRules returns watch rules, optionally for a single owner.
// @Summary List watch rules
// @Tags rules
// @Produce json
// @Param owner query string false "Only rules owned by this subscriber"
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} respond.ErrorResponse
// @Router /rules [get]
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.Rules.List(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, respond.CodeInternal, "Failed to list rules")
		return
	}
	if list == nil {
		list = []rules.WatchRule{}
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// CreateRule validates and stores a watch rule. The engine picks it up
// immediately.
// @Summary Create a watch rule
// @Description A rule matches events by identifier or tag; a rule with neither matches every event. price_cap requires an available listing at or below the cap.
// @Tags rules
// @Accept json
// @Produce json
// @Param rule body rules.WatchRule true "Watch rule"
// @Success 201 {object} rules.WatchRule
// @Failure 400 {object} respond.ErrorResponse
// @Router /rules [post]
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var in rules.WatchRule
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(&in); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, respond.CodeInvalidBody, "Request body must be a JSON watch rule", err.Error())
		return
	}

	rule, err := h.Rules.Add(r.Context(), in)
	if err != nil {
		respond.WriteDomainError(w, err, "Failed to store rule")
		return
	}
	respond.WriteJSONObject(w, http.StatusCreated, rule)
}

// DeleteRule removes a watch rule.
// @Summary Delete a watch rule
// @Tags rules
// @Param ruleID path string true "Rule ID"
// @Success 204
// @Failure 404 {object} respond.ErrorResponse
// @Router /rules/{ruleID} [delete]
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")
	if err := h.Rules.Remove(r.Context(), id); err != nil {
		respond.WriteDomainError(w, err, "Failed to delete rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
