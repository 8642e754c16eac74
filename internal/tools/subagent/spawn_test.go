package subagent

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestNewManager(t *testing.T) {
	t.Run("clamps maxActive above pool limit", func(t *testing.T) {
		m := NewManager(nil, 10)
		if m == nil {
			t.Fatal("expected non-nil manager")
		}
		if m.maxActive != 5 {
			t.Errorf("maxActive = %d, want %d", m.maxActive, 5)
		}
	})

	t.Run("with zero maxActive defaults to 5", func(t *testing.T) {
		m := NewManager(nil, 0)
		if m.maxActive != 5 {
			t.Errorf("maxActive = %d, want %d", m.maxActive, 5)
		}
	})

	t.Run("with negative maxActive defaults to 5", func(t *testing.T) {
		m := NewManager(nil, -1)
		if m.maxActive != 5 {
			t.Errorf("maxActive = %d, want %d", m.maxActive, 5)
		}
	})

	t.Run("keeps maxActive inside range", func(t *testing.T) {
		m := NewManager(nil, 3)
		if m.maxActive != 3 {
			t.Errorf("maxActive = %d, want %d", m.maxActive, 3)
		}
	})
}

func TestManager_SetAnnouncer(t *testing.T) {
	m := NewManager(nil, 5)
	m.SetAnnouncer(func(ctx context.Context, parentSession, msg string) error {
		return nil
	})

	if m.announcer == nil {
		t.Error("announcer should be set")
	}
}

func TestManager_Get(t *testing.T) {
	m := NewManager(nil, 5)

	t.Run("returns false for nonexistent agent", func(t *testing.T) {
		_, ok := m.Get("nonexistent")
		if ok {
			t.Error("expected false for nonexistent agent")
		}
	})

	t.Run("returns agent when exists", func(t *testing.T) {
		m.agents["test-id"] = &SubAgent{ID: "test-id", Name: "Test"}
		sa, ok := m.Get("test-id")
		if !ok {
			t.Error("expected true for existing agent")
		}
		if sa.Name != "Test" {
			t.Errorf("Name = %q, want %q", sa.Name, "Test")
		}
	})
}

func TestManager_List(t *testing.T) {
	m := NewManager(nil, 5)
	m.agents["a1"] = &SubAgent{ID: "a1", ParentID: "parent-1"}
	m.agents["a2"] = &SubAgent{ID: "a2", ParentID: "parent-1"}
	m.agents["a3"] = &SubAgent{ID: "a3", ParentID: "parent-2"}

	t.Run("filters by parent ID", func(t *testing.T) {
		list := m.List("parent-1")
		if len(list) != 2 {
			t.Errorf("expected 2 agents for parent-1, got %d", len(list))
		}
	})

	t.Run("returns empty for unknown parent", func(t *testing.T) {
		list := m.List("unknown")
		if len(list) != 0 {
			t.Errorf("expected 0 agents for unknown parent, got %d", len(list))
		}
	})
}

func TestManager_Cancel(t *testing.T) {
	m := NewManager(nil, 5)

	t.Run("returns error for nonexistent agent", func(t *testing.T) {
		err := m.Cancel("nonexistent")
		if err == nil {
			t.Error("expected error for nonexistent agent")
		}
	})

	t.Run("returns error for non-running agent", func(t *testing.T) {
		m.agents["completed"] = &SubAgent{ID: "completed", Status: "completed"}
		err := m.Cancel("completed")
		if err == nil {
			t.Error("expected error for completed agent")
		}
	})

	t.Run("cancels running agent", func(t *testing.T) {
		cancelled := false
		m.agents["running"] = &SubAgent{ID: "running", Status: "running"}
		m.cancels["running"] = func() { cancelled = true }
		err := m.Cancel("running")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		sa := m.agents["running"]
		if sa.Status != "cancelled" {
			t.Errorf("Status = %q, want %q", sa.Status, "cancelled")
		}
		if sa.CompletedAt.IsZero() {
			t.Error("CompletedAt should be set")
		}
		if !cancelled {
			t.Error("cancellation token should fire")
		}
	})
}

func TestManager_AvailableSlots(t *testing.T) {
	m := NewManager(nil, 3)
	if m.AvailableSlots() != 3 {
		t.Errorf("AvailableSlots() = %d, want 3", m.AvailableSlots())
	}
	m.active = 2
	if m.AvailableSlots() != 1 {
		t.Errorf("AvailableSlots() = %d, want 1", m.AvailableSlots())
	}
}

func TestManager_completeSubAgent(t *testing.T) {
	m := NewManager(nil, 5)

	t.Run("ignores nonexistent agent", func(t *testing.T) {
		m.completeSubAgent("nonexistent", "result", "", 0, 0)
	})

	t.Run("marks agent as completed", func(t *testing.T) {
		m.agents["test"] = &SubAgent{ID: "test", Status: "running"}
		m.completeSubAgent("test", "success result", "", 2, 50*time.Millisecond)

		sa := m.agents["test"]
		if sa.Status != "completed" {
			t.Errorf("Status = %q, want %q", sa.Status, "completed")
		}
		if sa.Result != "success result" {
			t.Errorf("Result = %q, want %q", sa.Result, "success result")
		}
		if sa.StepsTaken != 2 {
			t.Errorf("StepsTaken = %d, want 2", sa.StepsTaken)
		}
		if sa.CompletedAt.IsZero() {
			t.Error("CompletedAt should be set")
		}
	})

	t.Run("marks agent as failed", func(t *testing.T) {
		m.agents["test2"] = &SubAgent{ID: "test2", Status: "running"}
		m.completeSubAgent("test2", "", "error message", 0, 0)

		sa := m.agents["test2"]
		if sa.Status != "failed" {
			t.Errorf("Status = %q, want %q", sa.Status, "failed")
		}
		if sa.Error != "error message" {
			t.Errorf("Error = %q, want %q", sa.Error, "error message")
		}
	})

	t.Run("does not overwrite a cancelled agent", func(t *testing.T) {
		m.agents["test3"] = &SubAgent{ID: "test3", Status: "cancelled"}
		m.completeSubAgent("test3", "late result", "", 0, 0)
		if m.agents["test3"].Status != "cancelled" {
			t.Errorf("Status = %q, want cancelled", m.agents["test3"].Status)
		}
	})
}

func TestManager_Spawn_CustomRequiresAllowedTools(t *testing.T) {
	m := NewManager(nil, 5)
	_, err := m.Spawn(context.Background(), SpawnRequest{
		Name: "c",
		Type: TypeCustom,
		Task: "do",
	})
	if err == nil {
		t.Error("expected error for custom type without allowed tools")
	}
}

func TestSpawnTool(t *testing.T) {
	m := NewManager(nil, 5)
	tool := NewSpawnTool(m)

	t.Run("Name", func(t *testing.T) {
		if tool.Name() != "spawn_subagent" {
			t.Errorf("Name() = %q, want %q", tool.Name(), "spawn_subagent")
		}
	})

	t.Run("Description", func(t *testing.T) {
		if tool.Description() == "" {
			t.Error("Description() should not be empty")
		}
	})

	t.Run("Schema", func(t *testing.T) {
		schema := tool.Schema()
		var parsed map[string]any
		if err := json.Unmarshal(schema, &parsed); err != nil {
			t.Fatalf("Schema() should be valid JSON: %v", err)
		}
		if parsed["type"] != "object" {
			t.Errorf("Schema type = %v, want object", parsed["type"])
		}
	})

	t.Run("Execute rejects empty name", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), []byte(`{"name":"","task":"test"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Error("expected error result for empty name")
		}
	})

	t.Run("Execute rejects empty task", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), []byte(`{"name":"test","task":""}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Error("expected error result for empty task")
		}
	})

	t.Run("Execute rejects invalid JSON", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), []byte(`invalid json`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Error("expected error result for invalid JSON")
		}
	})

	t.Run("Execute rejects unknown type", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), []byte(`{"name":"x","task":"y","type":"weird"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Error("expected error result for unknown type")
		}
	})
}

func TestStatusTool(t *testing.T) {
	m := NewManager(nil, 5)
	tool := NewStatusTool(m)

	t.Run("Name", func(t *testing.T) {
		if tool.Name() != "subagent_status" {
			t.Errorf("Name() = %q, want %q", tool.Name(), "subagent_status")
		}
	})

	t.Run("Execute flags nonexistent agent", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), []byte(`{"id":"nonexistent"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Error("expected error result for nonexistent agent")
		}
	})

	t.Run("Execute returns agent status", func(t *testing.T) {
		m.agents["test-agent"] = &SubAgent{
			ID:     "test-agent",
			Name:   "Test",
			Status: "running",
			Task:   "Test task",
		}

		result, err := tool.Execute(context.Background(), []byte(`{"id":"test-agent"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Content == "" {
			t.Error("expected non-empty result")
		}
	})

	t.Run("Execute returns completed agent with result", func(t *testing.T) {
		m.agents["completed-agent"] = &SubAgent{
			ID:     "completed-agent",
			Name:   "Completed",
			Status: "completed",
			Task:   "Test task",
			Result: "Done successfully",
		}

		result, err := tool.Execute(context.Background(), []byte(`{"id":"completed-agent"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !containsStr(result.Content, "Done successfully") {
			t.Errorf("result should contain Result, got: %s", result.Content)
		}
	})

	t.Run("Execute returns failed agent with error", func(t *testing.T) {
		m.agents["failed-agent"] = &SubAgent{
			ID:     "failed-agent",
			Name:   "Failed",
			Status: "failed",
			Task:   "Test task",
			Error:  "Something went wrong",
		}

		result, err := tool.Execute(context.Background(), []byte(`{"id":"failed-agent"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !containsStr(result.Content, "Something went wrong") {
			t.Errorf("result should contain Error, got: %s", result.Content)
		}
	})

	t.Run("Execute lists agents when no ID", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), []byte(`{}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Content == "" {
			t.Error("expected non-empty result")
		}
	})
}

func TestCancelTool(t *testing.T) {
	m := NewManager(nil, 5)
	tool := NewCancelTool(m)

	t.Run("Name", func(t *testing.T) {
		if tool.Name() != "subagent_cancel" {
			t.Errorf("Name() = %q, want %q", tool.Name(), "subagent_cancel")
		}
	})

	t.Run("Execute rejects empty id", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), []byte(`{"id":""}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Error("expected error result for empty id")
		}
	})

	t.Run("Execute flags nonexistent agent", func(t *testing.T) {
		result, err := tool.Execute(context.Background(), []byte(`{"id":"nonexistent"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Error("expected error result for nonexistent agent")
		}
	})

	t.Run("Execute cancels running agent", func(t *testing.T) {
		m.agents["to-cancel"] = &SubAgent{ID: "to-cancel", Status: "running"}

		result, err := tool.Execute(context.Background(), []byte(`{"id":"to-cancel"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !containsStr(result.Content, "cancelled") {
			t.Errorf("result should mention cancelled, got: %s", result.Content)
		}
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"long string truncated", "hello world", 8, "hello..."},
		{"empty string", "", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncate(tt.input, tt.maxLen)
			if result != tt.expected {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
			}
		})
	}
}

func TestSubAgentJSON(t *testing.T) {
	sa := &SubAgent{
		ID:       "test-id",
		ParentID: "parent-id",
		Name:     "Test Agent",
		Task:     "Do something",
		Status:   "running",
	}

	data, err := json.Marshal(sa)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded SubAgent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.ID != sa.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, sa.ID)
	}
	if decoded.Name != sa.Name {
		t.Errorf("Name = %q, want %q", decoded.Name, sa.Name)
	}
}

func containsStr(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
