// Package review implements structured code reviews of files, git diffs, and
// GitHub pull requests. Diff and PR sources shell out to git and gh; both are
// optional and the tool degrades with a tool-level error when they are absent.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/wagmii/core/internal/agent"
	"github.com/wagmii/core/internal/tools/files"
)

const (
	defaultMaxChars = 200_000
	maxMaxChars     = 1_000_000
	fallbackChars   = 4000
)

const reviewSystemPrompt = `You are a senior code reviewer. Return ONLY valid JSON with the following schema:
{
  "summary": "short overview",
  "issues": [
    {
      "severity": "error|warning|info",
      "title": "issue title",
      "description": "details and impact",
      "path": "relative/file/path or null",
      "line": 123
    }
  ],
  "suggestions": [
    {
      "path": "relative/file/path or null",
      "line": 123,
      "suggestion": "actionable improvement"
    }
  ],
  "overall_assessment": "final assessment"
}
If a field is unknown, use an empty string or null. Prioritize correctness and missing tests.`

// Completer issues the one-shot review request.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Issue is one review finding.
type Issue struct {
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Path        string `json:"path,omitempty"`
	Line        int    `json:"line,omitempty"`
}

// Suggestion is one actionable improvement.
type Suggestion struct {
	Path       string `json:"path,omitempty"`
	Line       int    `json:"line,omitempty"`
	Suggestion string `json:"suggestion"`
}

// Output is the structured review result.
type Output struct {
	Summary           string       `json:"summary"`
	Issues            []Issue      `json:"issues"`
	Suggestions       []Suggestion `json:"suggestions"`
	OverallAssessment string       `json:"overall_assessment"`
}

// ParseOutput decodes the model's response, salvaging a fenced JSON block or
// falling back to a plain-text summary when the model ignored the schema.
func ParseOutput(raw string) Output {
	var out Output
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out.normalize()
	}
	if block := extractJSONBlock(raw); block != "" {
		if err := json.Unmarshal([]byte(block), &out); err == nil {
			return out.normalize()
		}
	}
	trimmed := strings.TrimSpace(raw)
	summary := "Review completed but no structured output was returned."
	if trimmed != "" {
		summary = truncateWithEllipsis(trimmed, fallbackChars)
	}
	return Output{Summary: summary}
}

func (o Output) normalize() Output {
	o.Summary = strings.TrimSpace(o.Summary)
	o.OverallAssessment = strings.TrimSpace(o.OverallAssessment)
	for i := range o.Issues {
		o.Issues[i].Severity = normalizeSeverity(o.Issues[i].Severity)
		o.Issues[i].Title = strings.TrimSpace(o.Issues[i].Title)
		o.Issues[i].Description = strings.TrimSpace(o.Issues[i].Description)
	}
	for i := range o.Suggestions {
		o.Suggestions[i].Suggestion = strings.TrimSpace(o.Suggestions[i].Suggestion)
	}
	return o
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "err", "critical", "high":
		return "error"
	case "warning", "warn", "medium":
		return "warning"
	default:
		return "info"
	}
}

// extractJSONBlock pulls the first {...} span out of prose or a code fence.
func extractJSONBlock(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

// Config configures the review tool.
type Config struct {
	Workspace string
	Model     string
}

// Tool is the review tool.
type Tool struct {
	resolver  files.Resolver
	workspace string
	model     string
	completer Completer
}

// NewTool creates a review tool. completer may be nil, in which case the tool
// reports itself unavailable at execution time.
func NewTool(cfg Config, completer Completer) *Tool {
	return &Tool{
		resolver:  files.Resolver{Root: cfg.Workspace},
		workspace: cfg.Workspace,
		model:     cfg.Model,
		completer: completer,
	}
}

// Name returns the tool name.
func (t *Tool) Name() string { return "review" }

// Description returns the tool description.
func (t *Tool) Description() string {
	return "Run a structured code review for a file, git diff, or GitHub pull request."
}

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target": map[string]interface{}{
				"type":        "string",
				"description": "File path, PR URL, or the literal 'diff'/'staged' for git diff review.",
			},
			"kind": map[string]interface{}{
				"type":        "string",
				"description": "Optional explicit target type: file, diff, or pr.",
			},
			"base": map[string]interface{}{
				"type":        "string",
				"description": "Optional git base ref when using diff target (e.g. origin/main).",
			},
			"staged": map[string]interface{}{
				"type":        "boolean",
				"description": "Review staged changes when using diff target (default: false).",
			},
			"max_chars": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum characters to include from the source (default: 200000).",
			},
		},
		"required": []string{"target"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute resolves the review source, asks the model, and returns structured
// findings.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.completer == nil {
		return toolError("review tool requires a configured LLM provider"), nil
	}

	var input struct {
		Target   string `json:"target"`
		Kind     string `json:"kind"`
		Base     string `json:"base"`
		Staged   bool   `json:"staged"`
		MaxChars int    `json:"max_chars"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	target := strings.TrimSpace(input.Target)
	if target == "" {
		return toolError("target cannot be empty"), nil
	}

	maxChars := input.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	if maxChars > maxMaxChars {
		maxChars = maxMaxChars
	}

	source, err := t.resolveSource(target, strings.ToLower(strings.TrimSpace(input.Kind)), input.Staged, strings.TrimSpace(input.Base))
	if err != nil {
		return toolError(err.Error()), nil
	}

	prompt := buildPrompt(source, maxChars)
	response, err := t.completer.Complete(ctx, reviewSystemPrompt, prompt)
	if err != nil {
		return toolError(fmt.Sprintf("review request failed: %v", err)), nil
	}

	output := ParseOutput(response)
	encoded, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode review: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(encoded)}, nil
}

type sourceKind int

const (
	sourceFile sourceKind = iota
	sourceDiff
	sourcePR
)

type reviewSource struct {
	kind    sourceKind
	label   string
	content string
}

var prURLPattern = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+)/pull/(\d+)`)

func (t *Tool) resolveSource(target, kind string, staged bool, base string) (reviewSource, error) {
	switch kind {
	case "file":
		return t.resolveFile(target)
	case "diff":
		diff, label, err := t.gitDiff(staged, base)
		if err != nil {
			return reviewSource{}, err
		}
		return reviewSource{kind: sourceDiff, label: label, content: diff}, nil
	case "pr", "pull", "pull_request":
		return t.resolvePR(target)
	case "":
	default:
		return reviewSource{}, fmt.Errorf("unknown review kind %q", kind)
	}

	if prURLPattern.MatchString(target) {
		return t.resolvePR(target)
	}
	switch target {
	case "diff", "staged":
		diff, label, err := t.gitDiff(staged || target == "staged", base)
		if err != nil {
			return reviewSource{}, err
		}
		return reviewSource{kind: sourceDiff, label: label, content: diff}, nil
	}
	return t.resolveFile(target)
}

func (t *Tool) resolveFile(target string) (reviewSource, error) {
	path, err := t.resolver.Resolve(target)
	if err != nil {
		return reviewSource{}, err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return reviewSource{}, fmt.Errorf("target is not a file: %s", target)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return reviewSource{}, fmt.Errorf("read file %s: %w", target, err)
	}
	display := target
	if rel, relErr := filepath.Rel(t.workspace, path); relErr == nil && !strings.HasPrefix(rel, "..") {
		display = rel
	}
	return reviewSource{kind: sourceFile, label: display, content: string(raw)}, nil
}

func (t *Tool) gitDiff(staged bool, base string) (string, string, error) {
	args := []string{"diff"}
	label := "git diff"
	if staged {
		args = append(args, "--cached")
		label = "git diff --cached"
	}
	if base != "" {
		args = append(args, base+"...HEAD")
	}
	cmd := exec.Command("git", args...)
	cmd.Dir = t.workspace
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", "", fmt.Errorf("git diff failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", "", fmt.Errorf("run git diff: %w", err)
	}
	diff := string(out)
	if strings.TrimSpace(diff) == "" {
		return "", "", fmt.Errorf("no diff to review")
	}
	return diff, label, nil
}

func (t *Tool) resolvePR(target string) (reviewSource, error) {
	m := prURLPattern.FindStringSubmatch(target)
	if m == nil {
		return reviewSource{}, fmt.Errorf("invalid pull request URL: %s", target)
	}
	owner, repo, number := m[1], m[2], m[3]
	cmd := exec.Command("gh", "pr", "diff", number, "--repo", owner+"/"+repo)
	cmd.Dir = t.workspace
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return reviewSource{}, fmt.Errorf("gh pr diff failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return reviewSource{}, fmt.Errorf("run gh pr diff (is gh installed?): %w", err)
	}
	diff := string(out)
	if strings.TrimSpace(diff) == "" {
		return reviewSource{}, fmt.Errorf("pull request diff is empty")
	}
	return reviewSource{
		kind:    sourcePR,
		label:   fmt.Sprintf("%s/%s#%s", owner, repo, number),
		content: diff,
	}, nil
}

func buildPrompt(source reviewSource, maxChars int) string {
	switch source.kind {
	case sourceFile:
		numbered := formatWithLineNumbers(source.content)
		return fmt.Sprintf("Review the following file and provide feedback.\nPath: %s\n\n%s\n\nEnd of file.",
			source.label, truncateWithEllipsis(numbered, maxChars))
	case sourcePR:
		return fmt.Sprintf("Review the following pull request %s and provide feedback.\n\n%s\n\nEnd of diff.",
			source.label, truncateWithEllipsis(source.content, maxChars))
	default:
		return fmt.Sprintf("Review the following %s and provide feedback.\n\n%s\n\nEnd of diff.",
			source.label, truncateWithEllipsis(source.content, maxChars))
	}
}

func formatWithLineNumbers(content string) string {
	lines := strings.Split(content, "\n")
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%5d | %s\n", i+1, line)
	}
	return b.String()
}

func truncateWithEllipsis(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "\n...[truncated]\n"
}

func toolError(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: msg, IsError: true}
}
