package handler

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdarBahar/MyTrip-sub004/internal/optimizer"
	"github.com/AdarBahar/MyTrip-sub004/internal/service"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestWriteError_ValidationError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, &optimizer.ValidationError{
		Code:    optimizer.CodeMissingStart,
		Message: "exactly one start stop is required",
	})

	assert.Equal(t, 400, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, optimizer.CodeMissingStart, body.Error)
}

func TestWriteError_ServiceCodes(t *testing.T) {
	cases := []struct {
		code       string
		wantStatus int
	}{
		{service.CodeDayNotFound, 404},
		{service.CodePlaceNotFound, 404},
		{service.CodePreviewNotFound, 404},
		{service.CodeVersionNotFound, 404},
		{service.CodePreviewExpired, 410},
		{service.CodeOptimizationInfeasible, 422},
		{service.CodeRouteProviderError, 502},
	}

	for _, c := range cases {
		t.Run(c.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, &service.Error{Code: c.code, Message: "boom"})

			assert.Equal(t, c.wantStatus, rec.Code)
			assert.Equal(t, c.code, decodeBody(t, rec).Error)
		})
	}
}

func TestWriteError_UnknownErrorIs500(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("pg connection reset"))

	assert.Equal(t, 500, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "internal_error", body.Error)
	assert.NotContains(t, body.Message, "pg", "internals must not leak to clients")
}

func TestWriteError_SuggestionsSurface(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, &service.Error{
		Code:        service.CodeRouteProviderError,
		Message:     "routing providers unavailable",
		Suggestions: []string{"try again in a few minutes"},
	})

	body := decodeBody(t, rec)
	assert.Equal(t, []string{"try again in a few minutes"}, body.Suggestions)
}
