package review

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeCompleter struct {
	response string
	err      error
	prompt   string
	system   string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	f.system = system
	f.prompt = prompt
	return f.response, f.err
}

func TestParseOutput_ValidJSON(t *testing.T) {
	raw := `{"summary":"looks fine","issues":[{"severity":"HIGH","title":" t ","description":"d"}],"suggestions":[{"suggestion":" fix it "}],"overall_assessment":" ok "}`
	out := ParseOutput(raw)
	if out.Summary != "looks fine" {
		t.Errorf("Summary = %q", out.Summary)
	}
	if len(out.Issues) != 1 || out.Issues[0].Severity != "error" {
		t.Errorf("severity should normalize HIGH to error, got %+v", out.Issues)
	}
	if out.Issues[0].Title != "t" {
		t.Errorf("Title should be trimmed, got %q", out.Issues[0].Title)
	}
	if out.Suggestions[0].Suggestion != "fix it" {
		t.Errorf("Suggestion should be trimmed, got %q", out.Suggestions[0].Suggestion)
	}
	if out.OverallAssessment != "ok" {
		t.Errorf("OverallAssessment = %q", out.OverallAssessment)
	}
}

func TestParseOutput_FencedJSON(t *testing.T) {
	raw := "Here is my review:\n```json\n{\"summary\":\"from fence\"}\n```\nthanks"
	out := ParseOutput(raw)
	if out.Summary != "from fence" {
		t.Errorf("Summary = %q, want from fence", out.Summary)
	}
}

func TestParseOutput_FallbackToPlainText(t *testing.T) {
	out := ParseOutput("no json here at all")
	if !strings.Contains(out.Summary, "no json here") {
		t.Errorf("fallback summary should carry the raw text, got %q", out.Summary)
	}
	if len(out.Issues) != 0 {
		t.Errorf("fallback should have no issues, got %d", len(out.Issues))
	}
}

func TestParseOutput_EmptyResponse(t *testing.T) {
	out := ParseOutput("   ")
	if !strings.Contains(out.Summary, "no structured output") {
		t.Errorf("empty response should produce the placeholder summary, got %q", out.Summary)
	}
}

func TestNormalizeSeverity(t *testing.T) {
	tests := map[string]string{
		"error":    "error",
		"critical": "error",
		"warn":     "warning",
		"medium":   "warning",
		"info":     "info",
		"":         "info",
		"banana":   "info",
	}
	for in, want := range tests {
		if got := normalizeSeverity(in); got != want {
			t.Errorf("normalizeSeverity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTool_Execute_FileTarget(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "main.go")
	if err := os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	completer := &fakeCompleter{response: `{"summary":"fine"}`}
	tool := NewTool(Config{Workspace: root, Model: "test"}, completer)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"target":"main.go"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if !strings.Contains(completer.prompt, "main.go") {
		t.Errorf("prompt should name the file, got: %s", completer.prompt[:120])
	}
	if !strings.Contains(completer.prompt, "1 | package main") {
		t.Errorf("prompt should carry line numbers, got: %s", completer.prompt)
	}
	if completer.system == "" {
		t.Error("system prompt should be set")
	}

	var out Output
	if err := json.Unmarshal([]byte(result.Content), &out); err != nil {
		t.Fatalf("result should be valid JSON: %v", err)
	}
	if out.Summary != "fine" {
		t.Errorf("Summary = %q, want fine", out.Summary)
	}
}

func TestTool_Execute_RequiresCompleter(t *testing.T) {
	tool := NewTool(Config{Workspace: t.TempDir()}, nil)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"target":"x"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result without a completer")
	}
}

func TestTool_Execute_RejectsEmptyTarget(t *testing.T) {
	tool := NewTool(Config{Workspace: t.TempDir()}, &fakeCompleter{})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"target":"  "}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for empty target")
	}
}

func TestTool_Execute_RejectsPathEscape(t *testing.T) {
	tool := NewTool(Config{Workspace: t.TempDir()}, &fakeCompleter{})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"target":"../secrets.txt"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for escaping path")
	}
}

func TestTool_Execute_UnknownKind(t *testing.T) {
	tool := NewTool(Config{Workspace: t.TempDir()}, &fakeCompleter{})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"target":"x","kind":"weird"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for unknown kind")
	}
}

func TestPRURLPattern(t *testing.T) {
	m := prURLPattern.FindStringSubmatch("https://github.com/acme/widgets/pull/42")
	if m == nil {
		t.Fatal("should match a PR URL")
	}
	if m[1] != "acme" || m[2] != "widgets" || m[3] != "42" {
		t.Errorf("captures = %v", m[1:])
	}
	if prURLPattern.MatchString("https://github.com/acme/widgets/issues/42") {
		t.Error("should not match an issue URL")
	}
}
