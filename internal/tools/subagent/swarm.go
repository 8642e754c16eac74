package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wagmii/core/internal/agent"
	"github.com/wagmii/core/internal/multiagent"
)

// SwarmTask is one unit of work submitted to agent_swarm.
type SwarmTask struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	DependsOn    []string `json:"depends_on,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"`
}

// SwarmRequest is the agent_swarm tool input.
type SwarmRequest struct {
	Tasks       []SwarmTask `json:"tasks"`
	MaxParallel int         `json:"max_parallel,omitempty"`
	FailFast    bool        `json:"fail_fast,omitempty"`
	NonBlocking bool        `json:"non_blocking,omitempty"`
	TimeoutMS   int64       `json:"timeout_ms,omitempty"`
}

// TaskOutcome is the terminal (or, for non-blocking calls, current) state of
// one swarm task.
type TaskOutcome struct {
	ID       string `json:"id"`
	AgentID  string `json:"agent_id,omitempty"`
	Status   string `json:"status"` // pending, running, completed, failed, cancelled, skipped
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Duration int64  `json:"duration_ms,omitempty"`
}

// SwarmOutcome aggregates the run.
type SwarmOutcome struct {
	Status string        `json:"status"` // completed, partial, timeout, failed, running
	Tasks  []TaskOutcome `json:"tasks"`
	Counts SwarmCounts   `json:"counts"`
}

// SwarmCounts summarizes terminal task states.
type SwarmCounts struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
}

const (
	swarmPollInterval  = 250 * time.Millisecond
	swarmMinTimeout    = time.Second
	swarmMaxTimeout    = time.Hour
	swarmDefaultBlock  = 600 * time.Second
	swarmDefaultNoWait = 15 * time.Second
)

// swarmRunner abstracts sub-agent execution so the scheduling loop can be
// exercised without a live runtime.
type swarmRunner interface {
	Start(ctx context.Context, task SwarmTask) (agentID string, err error)
	Poll(agentID string) (status, result, errMsg string)
	Cancel(agentID string)
	Slots() int
}

// managerRunner runs swarm tasks on the shared sub-agent pool.
type managerRunner struct {
	manager *Manager
}

func (r managerRunner) Start(ctx context.Context, task SwarmTask) (string, error) {
	agentType := TypeGeneral
	if len(task.AllowedTools) > 0 {
		agentType = TypeCustom
	}
	parentID := ""
	parentSession := "swarm"
	if session := agent.SessionFromContext(ctx); session != nil {
		parentID = session.AgentID
		parentSession = session.ID
	}
	sa, err := r.manager.Spawn(ctx, SpawnRequest{
		ParentID:      parentID,
		ParentSession: parentSession,
		Name:          task.ID,
		Type:          agentType,
		Task:          task.Prompt,
		AllowedTools:  task.AllowedTools,
	})
	if err != nil {
		return "", err
	}
	return sa.ID, nil
}

func (r managerRunner) Poll(agentID string) (string, string, string) {
	sa, ok := r.manager.Get(agentID)
	if !ok {
		return "failed", "", "sub-agent not found"
	}
	return sa.Status, sa.Result, sa.Error
}

func (r managerRunner) Cancel(agentID string) {
	_ = r.manager.Cancel(agentID)
}

func (r managerRunner) Slots() int {
	return r.manager.AvailableSlots()
}

// runSwarm drives the cooperative scheduling loop over a validated task set.
func runSwarm(ctx context.Context, runner swarmRunner, req SwarmRequest) (*SwarmOutcome, error) {
	if len(req.Tasks) == 0 {
		return nil, fmt.Errorf("tasks cannot be empty")
	}

	byID := make(map[string]*TaskOutcome, len(req.Tasks))
	order := make([]string, 0, len(req.Tasks))
	for _, task := range req.Tasks {
		id := strings.TrimSpace(task.ID)
		if id == "" {
			return nil, fmt.Errorf("task id cannot be empty")
		}
		if task.Prompt == "" {
			return nil, fmt.Errorf("task %q has no prompt", id)
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("duplicate task id %q", id)
		}
		byID[id] = &TaskOutcome{ID: id, Status: "pending"}
		order = append(order, id)
	}
	for _, task := range req.Tasks {
		for _, dep := range task.DependsOn {
			if _, ok := byID[strings.TrimSpace(dep)]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", task.ID, dep)
			}
		}
	}
	defs := make([]multiagent.AgentDefinition, 0, len(req.Tasks))
	for _, task := range req.Tasks {
		defs = append(defs, multiagent.AgentDefinition{ID: task.ID, DependsOn: task.DependsOn})
	}
	if _, err := multiagent.BuildDependencyGraph(defs); err != nil {
		return nil, err
	}

	taskDefs := make(map[string]SwarmTask, len(req.Tasks))
	for _, task := range req.Tasks {
		taskDefs[task.ID] = task
	}

	maxParallel := req.MaxParallel
	if maxParallel <= 0 {
		maxParallel = len(req.Tasks)
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout == 0 {
		if req.NonBlocking {
			timeout = swarmDefaultNoWait
		} else {
			timeout = swarmDefaultBlock
		}
	}
	if timeout < swarmMinTimeout {
		timeout = swarmMinTimeout
	}
	if timeout > swarmMaxTimeout {
		timeout = swarmMaxTimeout
	}
	deadline := time.Now().Add(timeout)

	started := make(map[string]time.Time)
	running := 0
	timedOut := false

	for {
		changed := false

		// Record completions from the pool.
		for _, id := range order {
			o := byID[id]
			if o.Status != "running" {
				continue
			}
			status, result, errMsg := runner.Poll(o.AgentID)
			switch status {
			case "completed":
				o.Status = "completed"
				o.Result = result
				o.Duration = time.Since(started[id]).Milliseconds()
				running--
				changed = true
			case "failed":
				o.Status = "failed"
				o.Error = errMsg
				o.Duration = time.Since(started[id]).Milliseconds()
				running--
				changed = true
			case "cancelled":
				o.Status = "cancelled"
				o.Duration = time.Since(started[id]).Milliseconds()
				running--
				changed = true
			}
		}

		// Fail fast: cancel everything in flight, skip everything pending.
		if req.FailFast && anyFailed(byID) {
			for _, id := range order {
				o := byID[id]
				switch o.Status {
				case "running":
					runner.Cancel(o.AgentID)
					o.Status = "cancelled"
					running--
				case "pending":
					o.Status = "skipped"
					o.Reason = "fail-fast"
					for _, dep := range taskDefs[id].DependsOn {
						if byID[strings.TrimSpace(dep)].Status == "failed" {
							o.Reason = "Dependency failed"
							break
						}
					}
				}
			}
			break
		}

		// Drop tasks whose dependencies can no longer complete.
		for _, id := range order {
			o := byID[id]
			if o.Status != "pending" {
				continue
			}
			for _, dep := range taskDefs[id].DependsOn {
				depStatus := byID[strings.TrimSpace(dep)].Status
				if depStatus == "failed" || depStatus == "skipped" || depStatus == "cancelled" {
					o.Status = "skipped"
					o.Reason = "Dependency failed"
					changed = true
					break
				}
			}
		}

		// Launch ready tasks up to the pool and batch limits.
		for _, id := range order {
			o := byID[id]
			if o.Status != "pending" || running >= maxParallel {
				continue
			}
			if runner.Slots() <= 0 {
				break
			}
			ready := true
			for _, dep := range taskDefs[id].DependsOn {
				if byID[strings.TrimSpace(dep)].Status != "completed" {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			agentID, err := runner.Start(ctx, taskDefs[id])
			if err != nil {
				o.Status = "failed"
				o.Error = err.Error()
			} else {
				o.AgentID = agentID
				o.Status = "running"
				started[id] = time.Now()
				running++
			}
			changed = true
		}

		if req.NonBlocking {
			break
		}
		if allTerminal(byID) {
			break
		}
		if time.Now().After(deadline) {
			timedOut = true
			for _, id := range order {
				o := byID[id]
				switch o.Status {
				case "running":
					runner.Cancel(o.AgentID)
					o.Status = "cancelled"
				case "pending":
					o.Status = "skipped"
					o.Reason = "timeout"
				}
			}
			break
		}
		if ctx.Err() != nil {
			for _, id := range order {
				o := byID[id]
				switch o.Status {
				case "running":
					runner.Cancel(o.AgentID)
					o.Status = "cancelled"
				case "pending":
					o.Status = "skipped"
					o.Reason = "cancelled"
				}
			}
			break
		}
		if !changed {
			time.Sleep(swarmPollInterval)
		}
	}

	outcome := &SwarmOutcome{}
	for _, id := range order {
		o := byID[id]
		outcome.Tasks = append(outcome.Tasks, *o)
		switch o.Status {
		case "completed":
			outcome.Counts.Completed++
		case "failed":
			outcome.Counts.Failed++
		case "cancelled":
			outcome.Counts.Cancelled++
		case "skipped":
			outcome.Counts.Skipped++
		}
	}

	switch {
	case req.NonBlocking && !allTerminal(byID):
		outcome.Status = "running"
	case timedOut:
		outcome.Status = "timeout"
	case outcome.Counts.Failed > 0 && outcome.Counts.Completed == 0:
		outcome.Status = "failed"
	case outcome.Counts.Failed > 0 || outcome.Counts.Skipped > 0 || outcome.Counts.Cancelled > 0:
		outcome.Status = "partial"
	default:
		outcome.Status = "completed"
	}

	return outcome, nil
}

func anyFailed(byID map[string]*TaskOutcome) bool {
	for _, o := range byID {
		if o.Status == "failed" {
			return true
		}
	}
	return false
}

func allTerminal(byID map[string]*TaskOutcome) bool {
	for _, o := range byID {
		if o.Status == "pending" || o.Status == "running" {
			return false
		}
	}
	return true
}

// SwarmTool schedules a batch of sub-agents with a dependency graph.
type SwarmTool struct {
	manager *Manager
}

// NewSwarmTool creates the agent_swarm tool over the shared sub-agent pool.
func NewSwarmTool(manager *Manager) *SwarmTool {
	return &SwarmTool{manager: manager}
}

// Name returns the tool name.
func (t *SwarmTool) Name() string {
	return "agent_swarm"
}

// Description returns the tool description.
func (t *SwarmTool) Description() string {
	return "Run a batch of sub-agent tasks with dependencies. Tasks run in parallel up to the pool limit; dependent tasks wait for their dependencies to complete."
}

// Schema returns the tool's input schema.
func (t *SwarmTool) Schema() json.RawMessage {
	return marshalSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tasks": map[string]any{
				"type":        "array",
				"description": "Tasks to run. Each needs a unique id and a prompt.",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":     map[string]any{"type": "string"},
						"prompt": map[string]any{"type": "string"},
						"depends_on": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
						"allowed_tools": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
					},
					"required": []string{"id", "prompt"},
				},
			},
			"max_parallel": map[string]any{
				"type":        "integer",
				"description": "Maximum tasks in flight at once (default: task count)",
				"minimum":     1,
			},
			"fail_fast": map[string]any{
				"type":        "boolean",
				"description": "Cancel everything on the first failure",
			},
			"non_blocking": map[string]any{
				"type":        "boolean",
				"description": "Return after the first scheduling pass instead of waiting",
			},
			"timeout_ms": map[string]any{
				"type":        "integer",
				"description": "Overall deadline in milliseconds (clamped to 1s..1h)",
			},
		},
		"required": []string{"tasks"},
	})
}

// Execute validates and runs the swarm.
func (t *SwarmTool) Execute(ctx context.Context, input json.RawMessage) (*agent.ToolResult, error) {
	var req SwarmRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return errorResult(fmt.Sprintf("invalid input: %v", err)), nil
	}

	outcome, err := runSwarm(ctx, managerRunner{manager: t.manager}, req)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	encoded, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode outcome: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(encoded), IsError: outcome.Status == "failed"}, nil
}
