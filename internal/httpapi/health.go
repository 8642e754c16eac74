package httpapi

import (
	"net/http"
	"time"
)

var startedAt = time.Now()

// handleHealth reports liveness with a small hand-built JSON body, since
// this is the one route reachable without auth.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"service":    "nexus",
		"mode":       "local",
		"uptime_sec": int(time.Since(startedAt).Seconds()),
	})
}
