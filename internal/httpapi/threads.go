package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/wagmii/core/internal/runtimelog"
)

type createThreadBody struct {
	Model        string `json:"model"`
	Mode         string `json:"mode"`
	Workspace    string `json:"workspace"`
	SystemPrompt string `json:"system_prompt"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var body createThreadBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, fmt.Errorf("%w: %s", errInvalidRequest, err))
			return
		}
	}
	mode := runtimelog.ModeNormal
	if body.Mode != "" {
		mode = runtimelog.Mode(body.Mode)
	}
	thread, err := s.deps.Engine.CreateThread(r.Context(), runtimelog.CreateThreadRequest{
		Model:        body.Model,
		Mode:         mode,
		Workspace:    body.Workspace,
		SystemPrompt: body.SystemPrompt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	threads := s.deps.Logs.ListThreads(includeArchived)
	if limit := parseLimit(r, 0); limit > 0 && limit < len(threads) {
		threads = threads[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

type threadSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Preview    string `json:"preview"`
	LastStatus string `json:"last_status"`
	UpdatedAt  string `json:"updated_at"`
}

func (s *Server) handleThreadsSummary(w http.ResponseWriter, r *http.Request) {
	search := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("search")))
	threads := s.deps.Logs.ListThreads(false)

	summaries := make([]threadSummary, 0, len(threads))
	for _, t := range threads {
		items, _ := s.deps.Logs.ListItems(t.ID)
		preview := ""
		for i := len(items) - 1; i >= 0; i-- {
			if items[i].Kind == runtimelog.ItemMessage {
				if content, ok := items[i].Payload["content"].(string); ok {
					preview = content
					break
				}
			}
		}
		title := t.ID
		if preview != "" {
			title = truncateForTitle(preview)
		}
		if search != "" && !strings.Contains(strings.ToLower(title), search) && !strings.Contains(strings.ToLower(preview), search) {
			continue
		}
		status := "idle"
		if t.LatestTurnID != "" {
			status = "active"
		}
		summaries = append(summaries, threadSummary{
			ID:         t.ID,
			Title:      title,
			Preview:    preview,
			LastStatus: status,
			UpdatedAt:  t.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": summaries})
}

func truncateForTitle(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80]
	}
	return s
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	thread, err := s.deps.Logs.GetThread(id)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := s.deps.Logs.ListItems(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread": thread, "items": items})
}

type patchThreadBody struct {
	Archived     *bool   `json:"archived"`
	SystemPrompt *string `json:"system_prompt"`
}

func (s *Server) handlePatchThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body patchThreadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %s", errInvalidRequest, err))
		return
	}

	var thread runtimelog.Thread
	var err error
	if body.Archived != nil {
		thread, err = s.deps.Logs.ArchiveThread(id, *body.Archived)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	if body.SystemPrompt != nil {
		thread, err = s.deps.Logs.UpdateThreadSystemPrompt(id, *body.SystemPrompt)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	if body.Archived == nil && body.SystemPrompt == nil {
		thread, err = s.deps.Logs.GetThread(id)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, thread)
}

type startTurnBody struct {
	Text string `json:"text"`
}

func (s *Server) handleStartTurn(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body startTurnBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Text) == "" {
		writeError(w, fmt.Errorf("%w: text is required", errInvalidRequest))
		return
	}
	turn, err := s.deps.Engine.SendMessage(r.Context(), id, body.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, turn)
}

type steerBody struct {
	Text string `json:"text"`
}

func (s *Server) handleSteerTurn(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turnID := r.PathValue("turn_id")
	var body steerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %s", errInvalidRequest, err))
		return
	}
	if err := s.deps.Engine.Steer(id, turnID, body.Text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "steered"})
}

func (s *Server) handleInterruptTurn(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turnID := r.PathValue("turn_id")
	if err := s.deps.Engine.Interrupt(id, turnID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "interrupted"})
}

func (s *Server) handleCompactThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Engine.CompactContext(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "compacted"})
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
