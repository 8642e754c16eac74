// Package system provides system-level tools for health, usage, and diagnostics.
package system

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wagmii/core/internal/agent"
)

// HealthCheckOptions controls how a health check is performed.
type HealthCheckOptions struct {
	TimeoutMs       int64
	ProbeWorkspace  *bool
	ProbeSubAgents  *bool
}

// WorkspaceHealth reports whether the workspace root is reachable and writable.
type WorkspaceHealth struct {
	Root       string `json:"root"`
	Reachable  bool   `json:"reachable"`
	GitRepo    bool   `json:"git_repo"`
	TrackedN   int    `json:"tracked_files"`
}

// SubAgentHealth reports the sub-agent pool's current occupancy.
type SubAgentHealth struct {
	MaxAgents      int `json:"max_agents"`
	AvailableSlots int `json:"available_slots"`
}

// HealthSummary is the result of a health check, matching the engine's
// GET /health contract at the tool-call boundary.
type HealthSummary struct {
	OK         bool             `json:"ok"`
	Ts         int64            `json:"ts"`
	DurationMs int64            `json:"duration_ms"`
	Workspace  *WorkspaceHealth `json:"workspace,omitempty"`
	SubAgents  *SubAgentHealth  `json:"sub_agents,omitempty"`
}

// FormatHealthSummary renders a summary as indented JSON.
func FormatHealthSummary(s *HealthSummary) string {
	payload, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"ok":%v}`, s != nil && s.OK)
	}
	return string(payload)
}

// HealthProvider provides health check functionality.
type HealthProvider interface {
	Check(ctx context.Context, opts *HealthCheckOptions) (*HealthSummary, error)
}

// HealthTool provides health check capabilities to the agent.
type HealthTool struct {
	provider HealthProvider
}

// NewHealthTool creates a new health check tool.
func NewHealthTool(provider HealthProvider) *HealthTool {
	return &HealthTool{provider: provider}
}

// Name returns the tool name.
func (t *HealthTool) Name() string { return "system_health" }

// Description returns the tool description.
func (t *HealthTool) Description() string {
	return "Check engine health status including workspace reachability and sub-agent capacity."
}

// Schema returns the JSON schema for the tool parameters.
func (t *HealthTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"probe_workspace": map[string]interface{}{
				"type":        "boolean",
				"description": "Whether to actively probe the workspace root (may be slower).",
				"default":     false,
			},
			"timeout_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in milliseconds for health checks.",
				"default":     10000,
			},
		},
		"required": []string{},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute performs the health check.
func (t *HealthTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.provider == nil {
		return toolError("health provider unavailable"), nil
	}

	var input struct {
		ProbeWorkspace bool  `json:"probe_workspace"`
		TimeoutMs      int64 `json:"timeout_ms"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	opts := &HealthCheckOptions{
		TimeoutMs:      input.TimeoutMs,
		ProbeWorkspace: &input.ProbeWorkspace,
	}

	summary, err := t.provider.Check(ctx, opts)
	if err != nil {
		return toolError(fmt.Sprintf("health check failed: %v", err)), nil
	}

	formatted := FormatHealthSummary(summary)
	return &agent.ToolResult{Content: formatted}, nil
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
