package httpapi

import (
	"fmt"
	"net/http"

	"github.com/wagmii/core/internal/runtimelog"
	"github.com/wagmii/core/internal/sessions"
)

func (s *Server) sessionsEnabled(w http.ResponseWriter) bool {
	if s.deps.Sessions == nil {
		writeError(w, fmt.Errorf("%w: session persistence is not configured", errNotFound))
		return false
	}
	return true
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsEnabled(w) {
		return
	}
	agentID := r.URL.Query().Get("agent_id")
	list, err := s.deps.Sessions.List(r.Context(), agentID, sessions.ListOptions{Limit: parseLimit(r, 50)})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsEnabled(w) {
		return
	}
	id := r.PathValue("id")
	session, err := s.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", errNotFound, err))
		return
	}
	history, err := s.deps.Sessions.GetHistory(r.Context(), id, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session, "messages": history})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsEnabled(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Sessions.Delete(r.Context(), id); err != nil {
		writeError(w, fmt.Errorf("%w: %s", errNotFound, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResumeThread seeds a freshly created thread's conversation history
// from a previously saved session, so a channel conversation can continue
// inside the interactive runtime without replaying it turn by turn.
func (s *Server) handleResumeThread(w http.ResponseWriter, r *http.Request) {
	if !s.sessionsEnabled(w) {
		return
	}
	id := r.PathValue("id")
	session, err := s.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", errNotFound, err))
		return
	}
	messages, err := s.deps.Sessions.GetHistory(r.Context(), id, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	thread, err := s.deps.Engine.CreateThread(r.Context(), runtimelog.CreateThreadRequest{
		Workspace: s.deps.WorkspaceDir,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Logs.SeedThreadFromMessages(thread.ID, messages); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"thread": thread, "resumed_from": session.ID})
}
