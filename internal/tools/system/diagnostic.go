// Package system provides system-level tools for health, usage, and diagnostics.
package system

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wagmii/core/internal/agent"
)

// EngineStats summarizes runtime activity across threads and sub-agents.
type EngineStats struct {
	ActiveThreads    int            `json:"active_threads"`
	ArchivedThreads  int            `json:"archived_threads"`
	ActiveSubAgents  int            `json:"active_sub_agents"`
	ToolCallsTotal   int64          `json:"tool_calls_total"`
	ToolCallsFailed  int64          `json:"tool_calls_failed"`
	CompactionsTotal int64          `json:"compactions_total"`
	ByToolName       map[string]int `json:"by_tool_name,omitempty"`
}

// DiagnosticProvider provides diagnostic information.
type DiagnosticProvider interface {
	GetEngineStats() EngineStats
}

// DiagnosticTool provides diagnostic information to the agent.
type DiagnosticTool struct {
	provider DiagnosticProvider
}

// NewDiagnosticTool creates a new diagnostic tool.
func NewDiagnosticTool(provider DiagnosticProvider) *DiagnosticTool {
	return &DiagnosticTool{provider: provider}
}

// Name returns the tool name.
func (t *DiagnosticTool) Name() string { return "system_diagnostic" }

// Description returns the tool description.
func (t *DiagnosticTool) Description() string {
	return "Get system diagnostic information including thread, sub-agent, and tool activity."
}

// Schema returns the JSON schema for the tool parameters.
func (t *DiagnosticTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"section": map[string]interface{}{
				"type":        "string",
				"description": "Diagnostic section: 'engine' or 'all' (default).",
				"default":     "all",
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

// Execute retrieves diagnostic information.
func (t *DiagnosticTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.provider == nil {
		return toolError("diagnostic provider unavailable"), nil
	}

	var input struct {
		Section string `json:"section"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	section := input.Section
	if section == "" {
		section = "all"
	}

	result := make(map[string]interface{})

	if section == "all" || section == "engine" {
		stats := t.provider.GetEngineStats()
		result["engine"] = map[string]interface{}{
			"active_threads":    stats.ActiveThreads,
			"archived_threads":  stats.ArchivedThreads,
			"active_sub_agents": stats.ActiveSubAgents,
			"tool_calls_total":  stats.ToolCallsTotal,
			"tool_calls_failed": stats.ToolCallsFailed,
			"compactions_total": stats.CompactionsTotal,
			"by_tool_name":      stats.ByToolName,
		}
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(encoded)}, nil
}
