package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"ragchat/internal/app"
	"ragchat/internal/engine"
	"ragchat/internal/session"
	"ragchat/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case session.IsBusy(err):
		return http.StatusConflict
	case session.IsUnknownPreset(err):
		return http.StatusNotFound
	case errors.Is(err, session.ErrEmptyPrompt):
		return http.StatusBadRequest
	case app.IsNotReady(err), engine.IsDependencyUnavailable(err),
		errors.Is(err, session.ErrClosed), errors.Is(err, app.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &he):
		return he.StatusCode()
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
