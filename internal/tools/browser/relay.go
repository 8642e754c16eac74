package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/wagmii/core/internal/agent"
)

const defaultDebugURL = "http://localhost:9222"

// Relay manages an attachment to an already-running Chrome instance via the
// DevTools protocol, as an alternative to the managed headless pool. Chrome
// must be started with --remote-debugging-port.
type Relay struct {
	mu          sync.Mutex
	allocCancel context.CancelFunc
	taskCtx     context.Context
	taskCancel  context.CancelFunc
	debugURL    string
	targetID    target.ID
	targetURL   string
	targetTitle string
}

// NewRelay creates an unattached relay.
func NewRelay() *Relay {
	return &Relay{}
}

func (r *Relay) listTabs(ctx context.Context, debugURL string) ([]map[string]string, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, debugURL)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	targets, err := chromedp.Targets(taskCtx)
	if err != nil {
		return nil, fmt.Errorf("list tabs (is Chrome running with --remote-debugging-port?): %w", err)
	}

	var tabs []map[string]string
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		tabs = append(tabs, map[string]string{
			"target_id": string(t.TargetID),
			"url":       t.URL,
			"title":     t.Title,
		})
	}
	return tabs, nil
}

func (r *Relay) attach(debugURL, match string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked()

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), debugURL)
	probeCtx, probeCancel := chromedp.NewContext(allocCtx)
	targets, err := chromedp.Targets(probeCtx)
	probeCancel()
	if err != nil {
		allocCancel()
		return nil, fmt.Errorf("attach: %w", err)
	}

	needle := strings.ToLower(match)
	var matched *target.Info
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if needle == "" ||
			strings.Contains(strings.ToLower(t.URL), needle) ||
			strings.Contains(strings.ToLower(t.Title), needle) {
			matched = t
			break
		}
	}
	if matched == nil {
		allocCancel()
		return nil, fmt.Errorf("no tab matching %q", match)
	}

	taskCtx, taskCancel := chromedp.NewContext(allocCtx, chromedp.WithTargetID(matched.TargetID))
	r.allocCancel = allocCancel
	r.taskCtx = taskCtx
	r.taskCancel = taskCancel
	r.debugURL = debugURL
	r.targetID = matched.TargetID
	r.targetURL = matched.URL
	r.targetTitle = matched.Title

	return map[string]string{
		"target_id": string(matched.TargetID),
		"url":       matched.URL,
		"title":     matched.Title,
	}, nil
}

func (r *Relay) detachLocked() {
	if r.taskCancel != nil {
		r.taskCancel()
		r.taskCancel = nil
	}
	if r.allocCancel != nil {
		r.allocCancel()
		r.allocCancel = nil
	}
	r.taskCtx = nil
	r.targetID = ""
}

// Detach drops the current attachment, if any.
func (r *Relay) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked()
}

func (r *Relay) attachedCtx() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taskCtx == nil {
		return nil, fmt.Errorf("not attached to a tab; use the attach action first")
	}
	return r.taskCtx, nil
}

func (r *Relay) snapshot(timeout time.Duration, fullPage bool) ([]byte, error) {
	taskCtx, err := r.attachedCtx()
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 90)
	}
	if err := chromedp.Run(runCtx, action); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

type relayAct struct {
	Navigate string `json:"navigate"`
	Click    string `json:"click"`
	Type     string `json:"type_selector"`
	Text     string `json:"text"`
	Evaluate string `json:"evaluate"`
	WaitMS   int    `json:"wait_ms"`
}

func (r *Relay) act(params relayAct, timeout time.Duration) (string, error) {
	taskCtx, err := r.attachedCtx()
	if err != nil {
		return "", err
	}
	runCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	var actions []chromedp.Action
	if params.Navigate != "" {
		actions = append(actions, chromedp.Navigate(params.Navigate))
	}
	if params.Click != "" {
		actions = append(actions,
			chromedp.WaitVisible(params.Click, chromedp.ByQuery),
			chromedp.Click(params.Click, chromedp.ByQuery),
		)
	}
	if params.Type != "" {
		actions = append(actions,
			chromedp.WaitVisible(params.Type, chromedp.ByQuery),
			chromedp.SendKeys(params.Type, params.Text, chromedp.ByQuery),
		)
	}
	if params.WaitMS > 0 {
		actions = append(actions, chromedp.Sleep(time.Duration(params.WaitMS)*time.Millisecond))
	}

	if params.Evaluate != "" {
		var result json.RawMessage
		actions = append(actions, chromedp.Evaluate(params.Evaluate, &result))
		if err := chromedp.Run(runCtx, actions...); err != nil {
			return "", fmt.Errorf("act: %w", err)
		}
		return string(result), nil
	}

	if len(actions) == 0 {
		return "", fmt.Errorf("no action specified")
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return "", fmt.Errorf("act: %w", err)
	}
	return "ok", nil
}

// RelayTool exposes the relay as one tool with an action discriminator, so
// attaching to a developer's live browser session doesn't need the managed
// pool at all.
type RelayTool struct {
	relay   *Relay
	timeout time.Duration
}

// NewRelayTool creates the browser_relay tool.
func NewRelayTool(relay *Relay) *RelayTool {
	return &RelayTool{relay: relay, timeout: 30 * time.Second}
}

// Name returns the tool name.
func (t *RelayTool) Name() string { return "browser_relay" }

// Description returns the tool description.
func (t *RelayTool) Description() string {
	return "Attach to a running Chrome (started with --remote-debugging-port) and inspect or drive its tabs: list_tabs, attach, snapshot, act, detach."
}

// Schema returns the JSON schema for the tool parameters.
func (t *RelayTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"list_tabs", "attach", "snapshot", "act", "detach"},
				"description": "Relay operation to perform.",
			},
			"debug_url": map[string]interface{}{
				"type":        "string",
				"description": "Chrome DevTools URL (default: http://localhost:9222).",
			},
			"match": map[string]interface{}{
				"type":        "string",
				"description": "attach: substring matched against tab URL or title.",
			},
			"full_page": map[string]interface{}{
				"type":        "boolean",
				"description": "snapshot: capture the full page instead of the viewport.",
			},
			"navigate":      map[string]interface{}{"type": "string"},
			"click":         map[string]interface{}{"type": "string"},
			"type_selector": map[string]interface{}{"type": "string"},
			"text":          map[string]interface{}{"type": "string"},
			"evaluate":      map[string]interface{}{"type": "string"},
			"wait_ms":       map[string]interface{}{"type": "integer"},
		},
		"required": []string{"action"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute dispatches one relay action.
func (t *RelayTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Action   string `json:"action"`
		DebugURL string `json:"debug_url"`
		Match    string `json:"match"`
		FullPage bool   `json:"full_page"`
		relayAct
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return relayError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	debugURL := input.DebugURL
	if debugURL == "" {
		debugURL = defaultDebugURL
	}

	switch input.Action {
	case "list_tabs":
		tabs, err := t.relay.listTabs(ctx, debugURL)
		if err != nil {
			return relayError(err.Error()), nil
		}
		encoded, _ := json.MarshalIndent(tabs, "", "  ")
		return &agent.ToolResult{Content: string(encoded)}, nil
	case "attach":
		info, err := t.relay.attach(debugURL, input.Match)
		if err != nil {
			return relayError(err.Error()), nil
		}
		encoded, _ := json.Marshal(info)
		return &agent.ToolResult{Content: "attached: " + string(encoded)}, nil
	case "snapshot":
		buf, err := t.relay.snapshot(t.timeout, input.FullPage)
		if err != nil {
			return relayError(err.Error()), nil
		}
		return &agent.ToolResult{
			Content: fmt.Sprintf("captured screenshot (%d bytes)", len(buf)),
			Artifacts: []agent.Artifact{{
				Type:     "screenshot",
				MimeType: "image/png",
				Filename: "screenshot.png",
				Data:     buf,
			}},
		}, nil
	case "act":
		result, err := t.relay.act(input.relayAct, t.timeout)
		if err != nil {
			return relayError(err.Error()), nil
		}
		return &agent.ToolResult{Content: result}, nil
	case "detach":
		t.relay.Detach()
		return &agent.ToolResult{Content: "detached"}, nil
	default:
		return relayError(fmt.Sprintf("unknown action %q", input.Action)), nil
	}
}

func relayError(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: msg, IsError: true}
}
