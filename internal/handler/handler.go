// Package handler contains HTTP request handlers for the route engine API.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/AdarBahar/MyTrip-sub004/internal/optimizer"
	"github.com/AdarBahar/MyTrip-sub004/internal/service"
)

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error       string   `json:"error"`
	Message     string   `json:"message,omitempty"`
	Field       string   `json:"field,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// writeError maps service and validation errors to HTTP responses with
// their stable codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *optimizer.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   verr.Code,
			Message: verr.Message,
			Field:   verr.Field,
		})
		return
	}

	var serr *service.Error
	if errors.As(err, &serr) {
		writeJSON(w, statusForCode(serr.Code), errorBody{
			Error:       serr.Code,
			Message:     serr.Message,
			Suggestions: serr.Suggestions,
		})
		return
	}

	log.Printf("[handler] unexpected error: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error"})
}

func statusForCode(code string) int {
	switch code {
	case service.CodeDayNotFound, service.CodePlaceNotFound,
		service.CodePreviewNotFound, service.CodeVersionNotFound:
		return http.StatusNotFound
	case service.CodePreviewExpired:
		return http.StatusGone
	case service.CodeOptimizationInfeasible:
		return http.StatusUnprocessableEntity
	case service.CodeRouteProviderError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
