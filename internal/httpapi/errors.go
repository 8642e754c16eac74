package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wagmii/core/internal/runtimelog"
)

// writeJSON marshals v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":{"message":"internal error","status":500}}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"error"`
}

// writeError maps an error to a uniform status-code scheme: 404 for
// missing entities, 409 for lifecycle conflicts, 400 for validation,
// 500 otherwise.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	var body errorBody
	body.Error.Message = err.Error()
	body.Error.Status = status
	writeJSON(w, status, body)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, runtimelog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, runtimelog.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errTooManyRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Sentinel wrap targets for handlers that validate input or look up
// non-runtimelog entities (sessions, tasks, automations) directly, so
// statusForError can classify them the same way.
var (
	errInvalidRequest   = errors.New("invalid request")
	errNotFound         = errors.New("not found")
	errTooManyRequests  = errors.New("rate limit exceeded")
	errUnauthorized     = errors.New("unauthorized")
)
