// Package engine is the turn loop: it takes the agent runtime's raw
// response-chunk stream and turns it into a durable, resumable thread,
// recording every step in the runtime log, watching token usage through the
// capacity controller, and compacting context when the controller asks for
// it.
//
// Everything here is driven by a small, closed set of operations (send a
// message, steer, interrupt, compact, run an automation) rather than by
// direct runtime calls, so the HTTP API and the automation scheduler share
// exactly one code path into the agent.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wagmii/core/internal/agent"
	"github.com/wagmii/core/internal/automation"
	"github.com/wagmii/core/internal/capacity"
	"github.com/wagmii/core/internal/compaction"
	"github.com/wagmii/core/internal/config"
	"github.com/wagmii/core/internal/runtimelog"
	"github.com/wagmii/core/internal/sessions"
	"github.com/wagmii/core/internal/workingset"
	"github.com/wagmii/core/pkg/models"
	"github.com/wagmii/core/pkg/proto"
)

// HistoryReplacer is implemented by session stores that can overwrite a
// session's history wholesale. Compaction type-asserts for it since it
// isn't part of the base sessions.Store contract every backend satisfies.
type HistoryReplacer interface {
	ReplaceHistory(ctx context.Context, sessionID string, messages []*models.Message) error
}

// ArtifactStore persists binary artifacts (screenshots, recordings, files)
// produced by tool executions, so events can carry a stable reference
// instead of raw bytes.
type ArtifactStore interface {
	StoreArtifact(ctx context.Context, artifact *proto.Artifact, data io.Reader) error
}

// Engine wires the agent runtime, the runtime log, the capacity controller,
// and context compaction into one turn loop.
type Engine struct {
	runtime      *agent.Runtime
	sessionStore sessions.Store
	logs         *runtimelog.Manager
	cap          *capacity.Controller
	capMemory    *capacity.Memory
	compactCfg   compaction.PlanConfig
	summarizer   compaction.Summarizer
	logger       *slog.Logger

	wsConfig config.WorkingSetConfig

	apiKeyResolver agent.APIKeyResolver
	artifacts      ArtifactStore

	mu          sync.Mutex
	workingSets map[string]*workingset.WorkingSet
	steerQueues map[string]*agent.SteeringQueue // keyed by turn id
	cancels     map[string]context.CancelFunc   // keyed by turn id
}

// SetAPIKeyResolver installs a per-call credential resolver, for providers
// whose API keys are short-lived tokens that may rotate mid-turn.
func (e *Engine) SetAPIKeyResolver(resolver agent.APIKeyResolver) {
	e.apiKeyResolver = resolver
}

// SetArtifactStore enables persistence of tool-produced artifacts.
func (e *Engine) SetArtifactStore(store ArtifactStore) {
	e.artifacts = store
}

// New builds an engine from its dependencies. summarizer may be nil if
// compaction is disabled.
func New(runtime *agent.Runtime, sessionStore sessions.Store, logs *runtimelog.Manager, controller *capacity.Controller, capMemory *capacity.Memory, compactCfg compaction.PlanConfig, summarizer compaction.Summarizer, wsConfig config.WorkingSetConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		runtime:      runtime,
		sessionStore: sessionStore,
		logs:         logs,
		cap:          controller,
		capMemory:    capMemory,
		compactCfg:   compactCfg,
		summarizer:   summarizer,
		wsConfig:     wsConfig,
		logger:       logger.With("component", "engine"),
		workingSets:  make(map[string]*workingset.WorkingSet),
		steerQueues:  make(map[string]*agent.SteeringQueue),
		cancels:      make(map[string]context.CancelFunc),
	}
}

// CreateThread provisions a new thread and its backing session.
func (e *Engine) CreateThread(ctx context.Context, req runtimelog.CreateThreadRequest) (runtimelog.Thread, error) {
	thread, err := e.logs.CreateThread(req)
	if err != nil {
		return runtimelog.Thread{}, err
	}
	key := sessions.SessionKey("engine", models.ChannelType("api"), thread.ID)
	if _, err := e.sessionStore.GetOrCreate(ctx, key, "engine", models.ChannelType("api"), thread.ID); err != nil {
		return runtimelog.Thread{}, fmt.Errorf("create backing session: %w", err)
	}
	return thread, nil
}

func (e *Engine) sessionID(threadID string) string {
	return threadID
}

func (e *Engine) workingSetFor(threadID, workspaceRoot string) *workingset.WorkingSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	ws, ok := e.workingSets[threadID]
	if !ok {
		if workspaceRoot == "" {
			workspaceRoot = "."
		}
		ws = workingset.New(workspaceRoot, e.wsConfig)
		e.workingSets[threadID] = ws
	}
	return ws
}

// SendMessage starts a new turn for the user's text and returns as soon as
// the turn is recorded as running; the turn itself executes on a background
// goroutine so Steer/Interrupt can reach it while it's in flight. Callers
// follow progress through logs.Subscribe/EventsSince on the thread.
func (e *Engine) SendMessage(ctx context.Context, threadID, text string) (runtimelog.Turn, error) {
	thread, err := e.logs.GetThread(threadID)
	if err != nil {
		return runtimelog.Turn{}, err
	}

	turn, err := e.logs.StartTurn(threadID, runtimelog.StartTurnRequest{InputSummary: truncateSummary(text)})
	if err != nil {
		return runtimelog.Turn{}, err
	}

	turnCtx, cancel := context.WithCancel(context.Background())
	queue := agent.NewSteeringQueue()
	e.mu.Lock()
	e.cancels[turn.ID] = cancel
	e.steerQueues[turn.ID] = queue
	e.mu.Unlock()

	go e.runTurn(turnCtx, thread, turn, text, queue)

	return turn, nil
}

func truncateSummary(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 160 {
		return s[:160]
	}
	return s
}

func (e *Engine) runTurn(ctx context.Context, thread runtimelog.Thread, turn runtimelog.Turn, text string, queue *agent.SteeringQueue) {
	defer e.cleanupTurn(turn.ID)

	ws := e.workingSetFor(thread.ID, thread.Workspace)
	ws.AdvanceTurn()
	ws.ObserveText(text)

	// The agent runtime persists the inbound user message itself as the
	// first step of its turn, so it is not appended here.
	msg := &models.Message{
		ID:      uuid.NewString(),
		Role:    models.RoleUser,
		Content: text,
	}

	ctx = agent.WithSteeringQueue(ctx, queue)
	if thread.SystemPrompt != "" {
		ctx = agent.WithSystemPrompt(ctx, thread.SystemPrompt)
	}
	if e.apiKeyResolver != nil {
		ctx = agent.WithAPIKeyResolver(ctx, e.apiKeyResolver)
	}

	session, err := e.sessionStore.Get(ctx, e.sessionID(thread.ID))
	if err != nil {
		e.failTurn(thread.ID, turn.ID, fmt.Errorf("load session: %w", err))
		return
	}

	if _, err := e.logs.AppendEvent(thread.ID, turn.ID, "", runtimelog.EventMessageStarted, nil); err != nil {
		e.logger.Warn("failed to append message.started event", "thread_id", thread.ID, "error", err)
	}

	chunks, err := e.runtime.Process(ctx, session, msg)
	if err != nil {
		e.failTurn(thread.ID, turn.ID, err)
		return
	}

	var assistantText strings.Builder
	var usage runtimelog.Usage
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		e.emitChunk(thread.ID, turn.ID, chunk, ws)
		if chunk.Text != "" {
			assistantText.WriteString(chunk.Text)
		}
		if chunk.Error != nil {
			e.failTurn(thread.ID, turn.ID, chunk.Error)
			return
		}
	}

	history, _ := e.sessionStore.GetHistory(ctx, e.sessionID(thread.ID), 0)
	usage.InputTokens = compaction.EstimateMessagesTokensModel(history)
	usage.OutputTokens = compaction.EstimateMessageTokensModel(&models.Message{Content: assistantText.String()})

	e.observeCapacity(ctx, thread, turn, history, usage)

	if err := e.logs.CompleteTurn(thread.ID, turn.ID, runtimelog.TurnCompleted, &usage, ""); err != nil {
		e.logger.Warn("failed to complete turn", "thread_id", thread.ID, "turn_id", turn.ID, "error", err)
	}
}

func (e *Engine) emitChunk(threadID, turnID string, chunk *agent.ResponseChunk, ws *workingset.WorkingSet) {
	if chunk.Text != "" {
		if _, err := e.logs.AppendEvent(threadID, turnID, "", runtimelog.EventMessageDelta, map[string]any{"text": chunk.Text}); err != nil {
			e.logger.Warn("failed to append message.delta event", "thread_id", threadID, "error", err)
		}
	}
	if chunk.ToolEvent != nil {
		te := chunk.ToolEvent
		if len(te.Input) > 0 {
			var input map[string]any
			if err := json.Unmarshal(te.Input, &input); err == nil {
				ws.ObserveToolInput(input)
			}
		}
		eventType := toolEventType(te.Stage)
		if _, err := e.logs.AppendEvent(threadID, turnID, "", eventType, map[string]any{
			"tool_call_id": te.ToolCallID,
			"tool_name":    te.ToolName,
			"stage":        te.Stage,
			"output":       te.Output,
			"error":        te.Error,
		}); err != nil {
			e.logger.Warn("failed to append tool event", "thread_id", threadID, "error", err)
		}
	}
	if chunk.ToolResult != nil {
		ws.ObserveToolOutput(chunk.ToolResult.Content)
	}
	if e.artifacts != nil {
		for _, art := range chunk.Artifacts {
			if len(art.Data) == 0 {
				continue
			}
			id := art.ID
			if id == "" {
				id = uuid.NewString()
			}
			stored := &proto.Artifact{
				Id:       id,
				Type:     art.Type,
				MimeType: art.MimeType,
				Filename: art.Filename,
				Size:     int64(len(art.Data)),
			}
			if err := e.artifacts.StoreArtifact(context.Background(), stored, bytes.NewReader(art.Data)); err != nil {
				e.logger.Warn("failed to store artifact", "thread_id", threadID, "artifact_id", id, "error", err)
				continue
			}
			if _, err := e.logs.AppendEvent(threadID, turnID, "", runtimelog.EventStatus, map[string]any{
				"message":     "artifact stored",
				"artifact_id": id,
				"mime_type":   art.MimeType,
				"filename":    art.Filename,
			}); err != nil {
				e.logger.Warn("failed to append artifact event", "thread_id", threadID, "error", err)
			}
		}
	}
	if chunk.Event != nil {
		if _, err := e.logs.AppendEvent(threadID, turnID, "", string(chunk.Event.Type), map[string]any{
			"message":     chunk.Event.Message,
			"tool_name":   chunk.Event.ToolName,
			"tool_call":   chunk.Event.ToolCallID,
			"iteration":   chunk.Event.Iteration,
		}); err != nil {
			e.logger.Warn("failed to append runtime event", "thread_id", threadID, "error", err)
		}
	}
}

func toolEventType(stage models.ToolEventStage) string {
	switch stage {
	case models.ToolEventRequested:
		return runtimelog.EventToolCallStarted
	case models.ToolEventStarted:
		return runtimelog.EventToolCallStarted
	case models.ToolEventSucceeded:
		return runtimelog.EventToolCallComplete
	case models.ToolEventFailed, models.ToolEventDenied:
		return runtimelog.EventToolCallComplete
	case models.ToolEventApprovalRequired:
		return runtimelog.EventApprovalRequired
	default:
		return runtimelog.EventToolCallProgress
	}
}

func (e *Engine) failTurn(threadID, turnID string, err error) {
	e.logger.Warn("turn failed", "thread_id", threadID, "turn_id", turnID, "error", err)
	if _, appendErr := e.logs.AppendEvent(threadID, turnID, "", runtimelog.EventError, map[string]any{"error": err.Error()}); appendErr != nil {
		e.logger.Warn("failed to append error event", "thread_id", threadID, "error", appendErr)
	}
	if completeErr := e.logs.CompleteTurn(threadID, turnID, runtimelog.TurnFailed, nil, err.Error()); completeErr != nil {
		e.logger.Warn("failed to complete failed turn", "thread_id", threadID, "turn_id", turnID, "error", completeErr)
	}
}

func (e *Engine) cleanupTurn(turnID string) {
	e.mu.Lock()
	delete(e.cancels, turnID)
	delete(e.steerQueues, turnID)
	e.mu.Unlock()
}

// observeCapacity records the capacity controller's decision for the next
// turn and, if it calls for compaction, runs it immediately so the next
// SendMessage sees a trimmed history.
func (e *Engine) observeCapacity(ctx context.Context, thread runtimelog.Thread, turn runtimelog.Turn, history []*models.Message, usage runtimelog.Usage) {
	if e.cap == nil {
		return
	}
	decision := e.cap.Observe(capacity.Observation{
		ThreadID:           thread.ID,
		PromptTokens:       usage.InputTokens,
		CompletionTokens:   usage.OutputTokens,
		ModelContextWindow: 0,
	})

	if _, err := e.logs.AppendEvent(thread.ID, turn.ID, "", runtimelog.EventCapacityDecision, map[string]any{
		"action":    decision.Action,
		"risk_band": decision.RiskBand,
		"slack":     decision.Slack,
		"reason":    decision.Reason,
	}); err != nil {
		e.logger.Warn("failed to append capacity.decision event", "thread_id", thread.ID, "error", err)
	}

	actionTaken := capacity.ActionNone
	var interventionErr error
	switch decision.Action {
	case capacity.ActionCompact, capacity.ActionReplay, capacity.ActionReplan:
		if err := e.CompactContext(ctx, thread.ID); err != nil {
			interventionErr = err
		} else {
			actionTaken = decision.Action
			if _, err := e.logs.AppendEvent(thread.ID, turn.ID, "", runtimelog.EventCapacityIntervention, map[string]any{"action": actionTaken}); err != nil {
				e.logger.Warn("failed to append capacity.intervention event", "thread_id", thread.ID, "error", err)
			}
		}
	}

	if e.capMemory != nil {
		elapsed := turn.StartedAt.Unix() - thread.CreatedAt.Unix()
		if elapsed < 0 {
			elapsed = 0
		}
		rec := capacity.MemoryRecord{Time: time.Now(), ThreadID: thread.ID, Turn: uint64(elapsed), Decision: decision, ActionTaken: actionTaken}
		if interventionErr != nil {
			rec.InterventionErr = interventionErr.Error()
		}
		if err := e.capMemory.Append(rec); err != nil {
			e.logger.Warn("failed to append capacity memory record", "thread_id", thread.ID, "error", err)
		}
	}
}

// CompactContext replaces a thread's session history with its compaction
// plan's pinned tail and summary, when the underlying store supports
// rewriting history wholesale.
func (e *Engine) CompactContext(ctx context.Context, threadID string) error {
	replacer, ok := e.sessionStore.(HistoryReplacer)
	if !ok {
		return fmt.Errorf("session store does not support history replacement")
	}

	history, err := e.sessionStore.GetHistory(ctx, e.sessionID(threadID), 0)
	if err != nil {
		return err
	}

	thread, err := e.logs.GetThread(threadID)
	if err != nil {
		return err
	}

	ws := e.workingSetFor(threadID, thread.Workspace)
	result, err := compaction.CompactMessagesSafe(ctx, history, thread.SystemPrompt, e.compactCfg, e.summarizer, nil, ws.Paths(), isTransientCompactionError)
	if err != nil {
		return err
	}
	if !result.Changed {
		return nil
	}

	if err := replacer.ReplaceHistory(ctx, e.sessionID(threadID), result.PinnedMessages); err != nil {
		return fmt.Errorf("replace compacted history: %w", err)
	}

	var blocks strings.Builder
	for i, b := range result.SystemPrompt {
		if i > 0 {
			blocks.WriteString("\n\n")
		}
		blocks.WriteString(b.Text)
	}
	if _, err := e.logs.UpdateThreadSystemPrompt(threadID, blocks.String()); err != nil {
		return fmt.Errorf("persist compacted system prompt: %w", err)
	}

	return nil
}

func isTransientCompactionError(err error) bool {
	return false
}

// Steer appends a steering note to an in-flight turn.
func (e *Engine) Steer(threadID, turnID, text string) error {
	if err := e.logs.SteerTurn(threadID, turnID, text); err != nil {
		return err
	}
	e.mu.Lock()
	queue := e.steerQueues[turnID]
	e.mu.Unlock()
	if queue == nil {
		return fmt.Errorf("no steering queue for turn %s", turnID)
	}
	queue.SteerText(text)
	return nil
}

// Interrupt cancels an in-flight turn's context and records the request.
func (e *Engine) Interrupt(threadID, turnID string) error {
	if err := e.logs.InterruptTurn(threadID, turnID); err != nil {
		return err
	}
	e.mu.Lock()
	cancel := e.cancels[turnID]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return e.logs.CompleteTurn(threadID, turnID, runtimelog.TurnInterrupted, nil, "interrupted by caller")
}

// RunAutomation implements automation.Runner: it starts (and blocks until
// the completion of) a turn using the automation's fixed prompt, against a
// thread dedicated to that automation+cwd pair.
func (e *Engine) RunAutomation(ctx context.Context, a *automation.Automation, cwd string) (string, error) {
	threadID := "automation-" + a.ID + "-" + sanitizeCWD(cwd)
	if _, err := e.logs.GetThread(threadID); err != nil {
		created, createErr := e.CreateThread(ctx, runtimelog.CreateThreadRequest{
			Model:     "default",
			Workspace: cwd,
		})
		if createErr != nil {
			return "", createErr
		}
		threadID = created.ID
	}

	turn, err := e.SendMessage(ctx, threadID, a.Prompt)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(10 * time.Minute)
	for time.Now().Before(deadline) {
		t, err := e.logs.GetThread(threadID)
		if err != nil {
			return "", err
		}
		if t.LatestTurnID == turn.ID {
			runs, _ := e.logs.EventsSince(threadID, 0)
			for i := len(runs) - 1; i >= 0; i-- {
				if runs[i].TurnID == turn.ID && runs[i].EventType == runtimelog.EventTurnCompleted {
					return threadID, nil
				}
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return threadID, fmt.Errorf("automation turn did not complete before deadline")
}

func sanitizeCWD(cwd string) string {
	replacer := strings.NewReplacer("/", "-", "\\", "-", " ", "_")
	return replacer.Replace(strings.Trim(cwd, "/"))
}
