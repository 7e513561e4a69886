package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/AdarBahar/MyTrip-sub004/internal/service"
)

// RouteHandler handles day-route computation HTTP requests.
type RouteHandler struct {
	breakdown *service.BreakdownService
}

// NewRouteHandler creates a handler wired to the breakdown service.
func NewRouteHandler(breakdown *service.BreakdownService) *RouteHandler {
	return &RouteHandler{breakdown: breakdown}
}

// ComputeBreakdown handles POST /api/v1/trips/{trip_id}/days/{day_id}/route/compute
//
// Computes the day's route leg by leg, optionally reordering the free via
// stops, and returns the assembled route under a preview token. Nothing is
// persisted until the token is committed.
//
// Response codes:
//   200  — Route computed (returns preview token + version payload)
//   400  — Validation failure (stable VALIDATION_* code with field path)
//   404  — Day or referenced place not found
//   422  — Fixed stop positions cannot all be satisfied
//   502  — Providers unavailable and the request exceeded its deadline
func (h *RouteHandler) ComputeBreakdown(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req service.BreakdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   "invalid_body",
			Message: "request body must be valid JSON",
		})
		return
	}
	req.TripID = vars["trip_id"]
	req.DayID = vars["day_id"]

	if req.Profile == "" {
		req.Profile = "car"
	}
	if req.Objective == "" {
		req.Objective = "time"
	}
	if !req.Profile.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   "invalid_profile",
			Message: "profile must be one of car, motorcycle, bike, walking",
			Field:   "profile",
		})
		return
	}
	if !req.Objective.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   "invalid_objective",
			Message: "objective must be time or distance",
			Field:   "objective",
		})
		return
	}

	result, err := h.breakdown.ComputeDayBreakdown(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
