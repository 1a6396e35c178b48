package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ameliahq/amelia/internal/core"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// respondError maps a domain error to an HTTP status and JSON body.
func respondError(w http.ResponseWriter, err error) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) {
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch domErr.Category {
	case core.ErrCatValidation:
		status = http.StatusBadRequest
	case core.ErrCatConflict:
		status = http.StatusConflict
	case core.ErrCatCapacity:
		status = http.StatusTooManyRequests
	case core.ErrCatNotFound:
		status = http.StatusNotFound
	case core.ErrCatState:
		status = http.StatusConflict
		if domErr.Code == core.CodeShuttingDown {
			status = http.StatusServiceUnavailable
		}
	case core.ErrCatPersistence:
		status = http.StatusInternalServerError
	}

	respondJSON(w, status, errorResponse{
		Error:   domErr.Message,
		Code:    domErr.Code,
		Details: domErr.Details,
	})
}
