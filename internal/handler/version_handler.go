package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/AdarBahar/MyTrip-sub004/internal/service"
)

// VersionHandler handles route-version lifecycle HTTP requests.
type VersionHandler struct {
	versions *service.VersionService
}

// NewVersionHandler creates a handler wired to the version service.
func NewVersionHandler(versions *service.VersionService) *VersionHandler {
	return &VersionHandler{versions: versions}
}

// Commit handles POST /api/v1/route/commit
//
// Consumes a preview token and persists its route as the day's new active
// version. Tokens are single-use.
//
// Response codes:
//   200  — Version committed (returns the persisted version)
//   400  — Missing preview_token
//   404  — Token unknown or already committed
//   410  — Preview expired
func (h *VersionHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PreviewToken string `json:"preview_token"`
		Name         string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PreviewToken == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   "invalid_body",
			Message: "body must include preview_token",
		})
		return
	}

	version, err := h.versions.Commit(r.Context(), body.PreviewToken, body.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, version)
}

// List handles GET /api/v1/days/{day_id}/route/versions
//
// Returns all versions of the day, newest first.
func (h *VersionHandler) List(w http.ResponseWriter, r *http.Request) {
	dayID := mux.Vars(r)["day_id"]

	versions, err := h.versions.ListVersions(r.Context(), dayID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

// GetActive handles GET /api/v1/days/{day_id}/route/active
//
// Returns the day's active version, or 404 when none exists.
func (h *VersionHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	dayID := mux.Vars(r)["day_id"]

	version, err := h.versions.GetActive(r.Context(), dayID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, version)
}

// SetActive handles PUT /api/v1/days/{day_id}/route/active
//
// Switches the day's active version to an existing one.
//
// Response codes:
//   204  — Active version switched
//   400  — Missing version_id
//   404  — Version not found for this day
func (h *VersionHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	dayID := mux.Vars(r)["day_id"]

	var body struct {
		VersionID string `json:"version_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.VersionID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   "invalid_body",
			Message: "body must include version_id",
		})
		return
	}

	if err := h.versions.SetActive(r.Context(), dayID, body.VersionID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteDay handles DELETE /api/v1/days/{day_id}
//
// Soft-deletes the day and its stops and removes its route versions.
//
// Response codes:
//   204  — Day deleted
//   404  — Day not found or already deleted
func (h *VersionHandler) DeleteDay(w http.ResponseWriter, r *http.Request) {
	dayID := mux.Vars(r)["day_id"]

	if err := h.versions.DeleteDay(r.Context(), dayID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
