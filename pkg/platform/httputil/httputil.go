// Package httputil holds the JSON response helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tsaxking/uuid-microservice/pkg/platform/sentinel"
)

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto a status code and a JSON error envelope. Only
// client-facing failures carry a description; internal errors do not leak.
func WriteError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	body := map[string]string{"error": code}
	if status != http.StatusInternalServerError {
		body["error_description"] = err.Error()
	}
	WriteJSON(w, status, body)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, sentinel.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, sentinel.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, sentinel.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
