package httpapi

import (
	"fmt"
	"net/http"
)

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	if s.deps.Skills == nil {
		writeError(w, fmt.Errorf("%w: skills are not configured", errNotFound))
		return
	}
	eligibleOnly := r.URL.Query().Get("eligible") == "true"
	var entries any
	if eligibleOnly {
		entries = s.deps.Skills.ListEligible()
	} else {
		entries = s.deps.Skills.ListAll()
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": entries})
}
