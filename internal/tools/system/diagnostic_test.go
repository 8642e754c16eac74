package system

import (
	"context"
	"encoding/json"
	"testing"
)

type mockDiagnosticProvider struct {
	engineStats EngineStats
}

func (m *mockDiagnosticProvider) GetEngineStats() EngineStats {
	return m.engineStats
}

func TestDiagnosticTool_Name(t *testing.T) {
	tool := NewDiagnosticTool(nil)
	if got := tool.Name(); got != "system_diagnostic" {
		t.Errorf("Name() = %q, want %q", got, "system_diagnostic")
	}
}

func TestDiagnosticTool_Description(t *testing.T) {
	tool := NewDiagnosticTool(nil)
	desc := tool.Description()
	if desc == "" {
		t.Error("Description() should not be empty")
	}
}

func TestDiagnosticTool_Schema(t *testing.T) {
	tool := NewDiagnosticTool(nil)
	schema := tool.Schema()
	if len(schema) == 0 {
		t.Error("Schema() should not be empty")
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(schema, &parsed); err != nil {
		t.Errorf("Schema() should be valid JSON: %v", err)
	}
}

func TestDiagnosticTool_Execute_NilProvider(t *testing.T) {
	tool := NewDiagnosticTool(nil)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("Execute() should return error when provider is nil")
	}
}

func TestDiagnosticTool_Execute_AllSections(t *testing.T) {
	provider := &mockDiagnosticProvider{
		engineStats: EngineStats{
			ActiveThreads:   5,
			ArchivedThreads: 1,
			ActiveSubAgents: 2,
			ToolCallsTotal:  100,
			ToolCallsFailed: 3,
			ByToolName:      map[string]int{"read": 30, "exec": 12},
		},
	}
	tool := NewDiagnosticTool(provider)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"section": "all"}`))
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}
	if result.IsError {
		t.Errorf("Execute() returned error: %s", result.Content)
	}
	if result.Content == "" {
		t.Error("Execute() should return content")
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		t.Errorf("Execute() result should be valid JSON: %v", err)
	}
	engine, ok := parsed["engine"].(map[string]interface{})
	if !ok {
		t.Fatal("Execute() result should contain engine section")
	}
	if engine["active_threads"].(float64) != 5 {
		t.Errorf("active_threads = %v, want 5", engine["active_threads"])
	}
	if engine["archived_threads"].(float64) != 1 {
		t.Errorf("archived_threads = %v, want 1", engine["archived_threads"])
	}
}

func TestDiagnosticTool_Execute_EngineOnly(t *testing.T) {
	provider := &mockDiagnosticProvider{
		engineStats: EngineStats{ActiveThreads: 3},
	}
	tool := NewDiagnosticTool(provider)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"section": "engine"}`))
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}
	if result.IsError {
		t.Errorf("Execute() returned error: %s", result.Content)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		t.Errorf("Execute() result should be valid JSON: %v", err)
	}
	if _, ok := parsed["engine"]; !ok {
		t.Error("Execute() result should contain engine section")
	}
}
