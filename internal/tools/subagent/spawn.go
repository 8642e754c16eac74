// Package subagent provides tools for spawning and managing sub-agents.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wagmii/core/internal/agent"
	"github.com/wagmii/core/internal/tools/policy"
	"github.com/wagmii/core/pkg/models"
)

// AgentType selects the role prompt and default tool filter for a sub-agent.
type AgentType string

const (
	TypeGeneral AgentType = "general"
	TypeExplore AgentType = "explore"
	TypePlan    AgentType = "plan"
	TypeReview  AgentType = "review"
	TypeCustom  AgentType = "custom"
)

// rolePrompts are the synthesized system prompts handed to each sub-agent.
var rolePrompts = map[AgentType]string{
	TypeGeneral: "You are a focused sub-agent. Complete the assigned task and report your findings concisely.",
	TypeExplore: "You are an exploration sub-agent. Survey the relevant code and files, read broadly, and report what you found. Do not modify anything.",
	TypePlan:    "You are a planning sub-agent. Produce a concrete, step-by-step plan for the assigned task. Do not execute the plan.",
	TypeReview:  "You are a review sub-agent. Examine the assigned change or code path critically and report defects, risks, and suggested fixes.",
}

// defaultDeniedTools restricts the read-only roles.
var defaultDeniedTools = map[AgentType][]string{
	TypeExplore: {"write", "edit", "apply_patch", "exec", "bash"},
	TypePlan:    {"write", "edit", "apply_patch", "exec", "bash"},
}

// SubAgent represents a spawned sub-agent.
type SubAgent struct {
	ID           string    `json:"id"`
	ParentID     string    `json:"parent_id"`
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	Type         AgentType `json:"type"`
	Task         string    `json:"task"`
	Status       string    `json:"status"` // running, completed, failed, cancelled
	CreatedAt    time.Time `json:"created_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	StepsTaken   int       `json:"steps_taken"`
	DurationMS   int64     `json:"duration_ms"`
	Result       string    `json:"result,omitempty"`
	Error        string    `json:"error,omitempty"`
	AllowedTools []string  `json:"allowed_tools,omitempty"`
	DeniedTools  []string  `json:"denied_tools,omitempty"`
}

// SpawnRequest carries everything needed to start one sub-agent.
type SpawnRequest struct {
	ParentID      string
	ParentSession string
	Name          string
	Type          AgentType
	Task          string
	AllowedTools  []string
	DeniedTools   []string
	MaxSteps      int
}

// Manager manages sub-agent lifecycle. The pool is bounded: Spawn fails once
// maxActive sub-agents are running, and Cancel fires the sub-agent's
// cancellation token rather than just flipping its status.
type Manager struct {
	mu        sync.RWMutex
	agents    map[string]*SubAgent
	cancels   map[string]context.CancelFunc
	runtime   *agent.Runtime
	maxActive int
	active    int
	announcer func(ctx context.Context, parentSession string, msg string) error
}

// NewManager creates a new sub-agent manager. maxActive is clamped to 1..5.
func NewManager(runtime *agent.Runtime, maxActive int) *Manager {
	if maxActive <= 0 {
		maxActive = 5
	}
	if maxActive > 5 {
		maxActive = 5
	}
	return &Manager{
		agents:    make(map[string]*SubAgent),
		cancels:   make(map[string]context.CancelFunc),
		runtime:   runtime,
		maxActive: maxActive,
	}
}

// SetAnnouncer sets the function to announce sub-agent spawns.
func (m *Manager) SetAnnouncer(fn func(ctx context.Context, parentSession string, msg string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announcer = fn
}

// AvailableSlots reports how many more sub-agents may be spawned right now.
func (m *Manager) AvailableSlots() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxActive - m.active
}

// Spawn creates and starts a new sub-agent.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (*SubAgent, error) {
	if req.Type == "" {
		req.Type = TypeGeneral
	}
	switch req.Type {
	case TypeGeneral, TypeExplore, TypePlan, TypeReview:
	case TypeCustom:
		if len(req.AllowedTools) == 0 {
			return nil, fmt.Errorf("custom sub-agents require an explicit allowed_tools list")
		}
	default:
		return nil, fmt.Errorf("unknown sub-agent type %q", req.Type)
	}

	denied := req.DeniedTools
	if extra, ok := defaultDeniedTools[req.Type]; ok {
		denied = append(append([]string(nil), denied...), extra...)
	}

	sa := &SubAgent{
		ID:           uuid.NewString(),
		ParentID:     req.ParentID,
		SessionID:    req.ParentSession + "-" + uuid.NewString()[:8],
		Name:         req.Name,
		Type:         req.Type,
		Task:         req.Task,
		Status:       "running",
		CreatedAt:    time.Now(),
		AllowedTools: req.AllowedTools,
		DeniedTools:  denied,
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.mu.Lock()
	if m.active >= m.maxActive {
		m.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("max active sub-agents reached (%d)", m.maxActive)
	}
	m.active++
	m.agents[sa.ID] = sa
	m.cancels[sa.ID] = cancel
	announcer := m.announcer
	m.mu.Unlock()

	if announcer != nil {
		announcement := fmt.Sprintf("Spawning %s sub-agent %q: %s", sa.Type, sa.Name, sa.Task)
		_ = announcer(ctx, req.ParentSession, announcement)
	}

	go m.runSubAgent(runCtx, sa, req.MaxSteps)

	return sa, nil
}

// runSubAgent executes the sub-agent's task.
func (m *Manager) runSubAgent(ctx context.Context, sa *SubAgent, maxSteps int) {
	start := time.Now()
	defer func() {
		m.mu.Lock()
		m.active--
		delete(m.cancels, sa.ID)
		m.mu.Unlock()
	}()

	session := &models.Session{
		ID:        sa.SessionID,
		AgentID:   sa.ID,
		CreatedAt: sa.CreatedAt,
		UpdatedAt: sa.CreatedAt,
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sa.SessionID,
		Role:      models.RoleUser,
		Content:   sa.Task,
		CreatedAt: time.Now(),
	}

	if prompt, ok := rolePrompts[sa.Type]; ok {
		ctx = agent.WithSystemPrompt(ctx, prompt)
	}
	if len(sa.AllowedTools) > 0 || len(sa.DeniedTools) > 0 {
		resolver := policy.NewResolver()
		toolPolicy := &policy.Policy{
			Allow: sa.AllowedTools,
			Deny:  sa.DeniedTools,
		}
		ctx = agent.WithToolPolicy(ctx, resolver, toolPolicy)
	}
	if maxSteps > 0 {
		ctx = agent.WithRuntimeOptions(ctx, agent.RuntimeOptions{MaxIterations: maxSteps})
	}

	chunks, err := m.runtime.Process(ctx, session, msg)
	if err != nil {
		m.completeSubAgent(sa.ID, "", err.Error(), 0, time.Since(start))
		return
	}

	var result strings.Builder
	steps := 0
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.ToolEvent != nil && chunk.ToolEvent.Stage == models.ToolEventStarted {
			steps++
		}
		if chunk.Error != nil {
			m.completeSubAgent(sa.ID, "", chunk.Error.Error(), steps, time.Since(start))
			return
		}
		if chunk.Text != "" {
			result.WriteString(chunk.Text)
		}
	}

	if ctx.Err() != nil {
		m.completeSubAgent(sa.ID, "", "cancelled", steps, time.Since(start))
		return
	}

	m.completeSubAgent(sa.ID, result.String(), "", steps, time.Since(start))
}

// completeSubAgent records the terminal state of a sub-agent. The status set
// by Cancel wins over a late completion from the run goroutine.
func (m *Manager) completeSubAgent(id, result, errMsg string, steps int, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sa, ok := m.agents[id]
	if !ok || sa.Status == "cancelled" {
		return
	}

	sa.CompletedAt = time.Now()
	sa.StepsTaken = steps
	sa.DurationMS = elapsed.Milliseconds()
	if errMsg != "" {
		sa.Status = "failed"
		sa.Error = errMsg
	} else {
		sa.Status = "completed"
		sa.Result = result
	}
}

// Get returns a sub-agent by ID.
func (m *Manager) Get(id string) (*SubAgent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sa, ok := m.agents[id]
	return sa, ok
}

// List returns all sub-agents for a parent.
func (m *Manager) List(parentID string) []*SubAgent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*SubAgent
	for _, sa := range m.agents {
		if sa.ParentID == parentID {
			result = append(result, sa)
		}
	}
	return result
}

// Cancel cancels a running sub-agent by firing its cancellation token.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sa, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("sub-agent not found: %s", id)
	}
	if sa.Status != "running" {
		return fmt.Errorf("sub-agent not running: %s", sa.Status)
	}

	if cancel, ok := m.cancels[id]; ok {
		cancel()
	}
	sa.Status = "cancelled"
	sa.CompletedAt = time.Now()
	sa.Error = "cancelled by caller"
	return nil
}

// ActiveCount returns the number of active sub-agents.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// SpawnTool is a tool for spawning sub-agents.
type SpawnTool struct {
	manager *Manager
}

// NewSpawnTool creates a new spawn tool.
func NewSpawnTool(manager *Manager) *SpawnTool {
	return &SpawnTool{manager: manager}
}

// Name returns the tool name.
func (t *SpawnTool) Name() string {
	return "spawn_subagent"
}

// Description returns the tool description.
func (t *SpawnTool) Description() string {
	return "Spawn a sub-agent to work on a specific task. Returns the sub-agent ID for tracking."
}

// Schema returns the tool's input schema.
func (t *SpawnTool) Schema() json.RawMessage {
	return marshalSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "A short name for the sub-agent (e.g., 'researcher', 'coder')",
			},
			"type": map[string]any{
				"type":        "string",
				"enum":        []string{"general", "explore", "plan", "review", "custom"},
				"description": "Role of the sub-agent (default: general). Custom requires allowed_tools.",
			},
			"task": map[string]any{
				"type":        "string",
				"description": "The task for the sub-agent to complete",
			},
			"allowed_tools": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Tools the sub-agent is allowed to use (optional, defaults to all)",
			},
			"denied_tools": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Tools the sub-agent is NOT allowed to use (optional)",
			},
			"max_steps": map[string]any{
				"type":        "integer",
				"description": "Step budget for the sub-agent (optional)",
				"minimum":     1,
			},
		},
		"required": []string{"name", "task"},
	})
}

// Execute spawns a sub-agent.
func (t *SpawnTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	var params struct {
		Name         string   `json:"name"`
		Type         string   `json:"type"`
		Task         string   `json:"task"`
		AllowedTools []string `json:"allowed_tools"`
		DeniedTools  []string `json:"denied_tools"`
		MaxSteps     int      `json:"max_steps"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errorResult(fmt.Sprintf("invalid input: %v", err)), nil
	}

	if params.Name == "" {
		return errorResult("name is required"), nil
	}
	if params.Task == "" {
		return errorResult("task is required"), nil
	}

	parentID := ""
	parentSession := ""
	if session := agent.SessionFromContext(ctx); session != nil {
		parentID = session.AgentID
		parentSession = session.ID
	}

	sa, err := t.manager.Spawn(ctx, SpawnRequest{
		ParentID:      parentID,
		ParentSession: parentSession,
		Name:          params.Name,
		Type:          AgentType(params.Type),
		Task:          params.Task,
		AllowedTools:  params.AllowedTools,
		DeniedTools:   params.DeniedTools,
		MaxSteps:      params.MaxSteps,
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}

	return &agent.ToolResult{
		Content: fmt.Sprintf("Sub-agent '%s' spawned with ID: %s\nTask: %s\nUse subagent_status to check progress.", params.Name, sa.ID, params.Task),
	}, nil
}

// StatusTool is a tool for checking sub-agent status.
type StatusTool struct {
	manager *Manager
}

// NewStatusTool creates a new status tool.
func NewStatusTool(manager *Manager) *StatusTool {
	return &StatusTool{manager: manager}
}

// Name returns the tool name.
func (t *StatusTool) Name() string {
	return "subagent_status"
}

// Description returns the tool description.
func (t *StatusTool) Description() string {
	return "Check the status of a sub-agent or list all sub-agents."
}

// Schema returns the tool's input schema.
func (t *StatusTool) Schema() json.RawMessage {
	return marshalSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Sub-agent ID to check (optional, omit to list all)",
			},
		},
	})
}

// Execute checks sub-agent status.
func (t *StatusTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errorResult(fmt.Sprintf("invalid input: %v", err)), nil
	}

	if params.ID != "" {
		sa, ok := t.manager.Get(params.ID)
		if !ok {
			return errorResult(fmt.Sprintf("sub-agent not found: %s", params.ID)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Sub-agent: %s (%s)\nStatus: %s\nTask: %s\n", sa.Name, sa.ID, sa.Status, sa.Task)
		if sa.Status == "completed" {
			fmt.Fprintf(&b, "Steps: %d\nResult: %s\n", sa.StepsTaken, sa.Result)
		}
		if sa.Status == "failed" {
			fmt.Fprintf(&b, "Error: %s\n", sa.Error)
		}
		return &agent.ToolResult{Content: b.String()}, nil
	}

	parentID := ""
	if session := agent.SessionFromContext(ctx); session != nil {
		parentID = session.AgentID
	}

	agents := t.manager.List(parentID)
	if len(agents) == 0 {
		return &agent.ToolResult{Content: "No sub-agents found."}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active sub-agents: %d/%d\n\n", t.manager.ActiveCount(), t.manager.maxActive)
	for _, sa := range agents {
		fmt.Fprintf(&b, "- %s (%s): %s - %s\n", sa.Name, sa.ID, sa.Status, truncate(sa.Task, 50))
	}
	return &agent.ToolResult{Content: b.String()}, nil
}

// CancelTool is a tool for cancelling sub-agents.
type CancelTool struct {
	manager *Manager
}

// NewCancelTool creates a new cancel tool.
func NewCancelTool(manager *Manager) *CancelTool {
	return &CancelTool{manager: manager}
}

// Name returns the tool name.
func (t *CancelTool) Name() string {
	return "subagent_cancel"
}

// Description returns the tool description.
func (t *CancelTool) Description() string {
	return "Cancel a running sub-agent."
}

// Schema returns the tool's input schema.
func (t *CancelTool) Schema() json.RawMessage {
	return marshalSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Sub-agent ID to cancel",
			},
		},
		"required": []string{"id"},
	})
}

// Execute cancels a sub-agent.
func (t *CancelTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errorResult(fmt.Sprintf("invalid input: %v", err)), nil
	}

	if params.ID == "" {
		return errorResult("id is required"), nil
	}

	if err := t.manager.Cancel(params.ID); err != nil {
		return errorResult(err.Error()), nil
	}

	return &agent.ToolResult{Content: fmt.Sprintf("Sub-agent %s cancelled.", params.ID)}, nil
}

func marshalSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func errorResult(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: msg, IsError: true}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
