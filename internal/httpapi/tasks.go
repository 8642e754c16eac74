package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wagmii/core/internal/tasks"
)

func (s *Server) tasksEnabled(w http.ResponseWriter) bool {
	if s.deps.Tasks == nil {
		writeError(w, fmt.Errorf("%w: the task queue is not configured", errNotFound))
		return false
	}
	return true
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if !s.tasksEnabled(w) {
		return
	}
	opts := tasks.ListTasksOptions{Limit: parseLimit(r, 100)}
	if status := r.URL.Query().Get("status"); status != "" {
		st := tasks.TaskStatus(status)
		opts.Status = &st
	}
	list, err := s.deps.Tasks.ListTasks(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": list})
}

type createTaskBody struct {
	Name     string `json:"name"`
	AgentID  string `json:"agent_id"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if !s.tasksEnabled(w) {
		return
	}
	var body createTaskBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %s", errInvalidRequest, err))
		return
	}
	if strings.TrimSpace(body.Schedule) == "" || strings.TrimSpace(body.Prompt) == "" {
		writeError(w, fmt.Errorf("%w: schedule and prompt are required", errInvalidRequest))
		return
	}
	now := time.Now().UTC()
	task := &tasks.ScheduledTask{
		ID:        uuid.NewString(),
		Name:      body.Name,
		AgentID:   body.AgentID,
		Schedule:  body.Schedule,
		Prompt:    body.Prompt,
		Config:    tasks.DefaultTaskConfig(),
		Status:    tasks.TaskStatusActive,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Tasks.CreateTask(r.Context(), task); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if !s.tasksEnabled(w) {
		return
	}
	id := r.PathValue("id")
	task, err := s.deps.Tasks.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", errNotFound, err))
		return
	}
	executions, err := s.deps.Tasks.ListExecutions(r.Context(), id, tasks.ListExecutionsOptions{Limit: 20})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task, "executions": executions})
}

// handleCancelTask disables future scheduling for the task; an execution
// already running is left to finish, matching the scheduler's own
// AllowOverlap bookkeeping rather than force-killing an in-flight run.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if !s.tasksEnabled(w) {
		return
	}
	id := r.PathValue("id")
	task, err := s.deps.Tasks.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %s", errNotFound, err))
		return
	}
	task.Status = tasks.TaskStatusDisabled
	task.UpdatedAt = time.Now().UTC()
	if err := s.deps.Tasks.UpdateTask(r.Context(), task); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
