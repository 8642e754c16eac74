package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/wagmii/core/internal/config"
)

func (s *Server) automationsEnabled(w http.ResponseWriter) bool {
	if s.deps.Automations == nil {
		writeError(w, fmt.Errorf("%w: automations are not configured", errNotFound))
		return false
	}
	return true
}

func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	if !s.automationsEnabled(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"automations": s.deps.Automations.List()})
}

type createAutomationBody struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Prompt string   `json:"prompt"`
	RRule  string   `json:"rrule"`
	CWDs   []string `json:"cwds"`
}

func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationsEnabled(w) {
		return
	}
	var body createAutomationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %s", errInvalidRequest, err))
		return
	}
	if strings.TrimSpace(body.Prompt) == "" || strings.TrimSpace(body.RRule) == "" {
		writeError(w, fmt.Errorf("%w: prompt and rrule are required", errInvalidRequest))
		return
	}
	job := config.AutomationJobConfig{
		ID:     body.ID,
		Name:   body.Name,
		Prompt: body.Prompt,
		RRule:  body.RRule,
		CWDs:   body.CWDs,
	}
	automation, err := s.deps.Automations.Create(job)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", errInvalidRequest, err))
		return
	}
	writeJSON(w, http.StatusCreated, automation)
}

func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationsEnabled(w) {
		return
	}
	id := r.PathValue("id")
	automation, ok := s.deps.Automations.Get(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: automation %q", errNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, automation)
}

func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationsEnabled(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Automations.Delete(id); err != nil {
		writeError(w, fmt.Errorf("%w: %s", errNotFound, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunAutomationNow(w http.ResponseWriter, r *http.Request) {
	if !s.automationsEnabled(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Automations.RunNow(r.Context(), id); err != nil {
		writeError(w, fmt.Errorf("%w: %s", errNotFound, err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handlePauseAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationsEnabled(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Automations.SetEnabled(id, false); err != nil {
		writeError(w, fmt.Errorf("%w: %s", errNotFound, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResumeAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationsEnabled(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Automations.SetEnabled(id, true); err != nil {
		writeError(w, fmt.Errorf("%w: %s", errNotFound, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleAutomationRuns(w http.ResponseWriter, r *http.Request) {
	if !s.automationsEnabled(w) {
		return
	}
	id := r.PathValue("id")
	runs, err := s.deps.Automations.RunHistory(id)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", errNotFound, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
