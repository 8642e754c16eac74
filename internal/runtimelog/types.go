// Package runtimelog is the runtime thread manager: the durable, per-thread
// event log with monotonic sequence numbers that the HTTP/SSE API replays
// from, and the turn/item bookkeeping (thread metadata, ordered turns,
// ordered items) that sits underneath it.
//
// Every event a thread ever emits is appended once, in order, and never
// mutated afterward; replay from any cursor is just "read everything with a
// larger seq". The manager itself does not know how to run a turn - that's
// the engine's job - it only records what happened and fans it out to
// subscribers.
package runtimelog

import "time"

// ThreadStatus is not currently branched on by the manager beyond Archived,
// but is carried for API responses.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModePlan   Mode = "plan"
)

// Thread is the durable record for one conversation: its configuration and
// a pointer to its most recent turn.
type Thread struct {
	ID            string    `json:"id"`
	Model         string    `json:"model"`
	Mode          Mode      `json:"mode"`
	Workspace     string    `json:"workspace"`
	SystemPrompt  string    `json:"system_prompt,omitempty"`
	Archived      bool      `json:"archived"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	LatestTurnID  string    `json:"latest_turn_id,omitempty"`
}

// TurnStatus is the lifecycle state of one turn.
type TurnStatus string

const (
	TurnPending     TurnStatus = "pending"
	TurnRunning     TurnStatus = "running"
	TurnSteering    TurnStatus = "steering"
	TurnCompleted   TurnStatus = "completed"
	TurnFailed      TurnStatus = "failed"
	TurnInterrupted TurnStatus = "interrupted"
	TurnCanceled    TurnStatus = "canceled"
)

// Usage records token accounting for a completed turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Turn is one user prompt plus everything the assistant emits until the
// next stop without a pending tool call.
type Turn struct {
	ID           string     `json:"id"`
	ThreadID     string     `json:"thread_id"`
	Status       TurnStatus `json:"status"`
	InputSummary string     `json:"input_summary"`
	SteerCount   int        `json:"steer_count"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Usage        *Usage     `json:"usage,omitempty"`
	FailReason   string     `json:"fail_reason,omitempty"`
}

// ItemKind enumerates the ordered items a thread accumulates independent of
// the raw event stream - a coarser, UI-friendly view of the conversation.
type ItemKind string

const (
	ItemMessage          ItemKind = "message"
	ItemToolCall         ItemKind = "tool_call"
	ItemFileChange       ItemKind = "file_change"
	ItemCommandExecution ItemKind = "command_execution"
	ItemStatus           ItemKind = "status"
	ItemError            ItemKind = "error"
	ItemAgentUpdate      ItemKind = "agent_update"
)

// Item is one entry in a thread's ordered, UI-facing item list.
type Item struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	TurnID    string         `json:"turn_id,omitempty"`
	Kind      ItemKind       `json:"kind"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Event is one immutable, sequenced entry in a thread's event log.
type Event struct {
	SchemaVersion int            `json:"schema_version"`
	Seq           uint64         `json:"seq"`
	Timestamp     time.Time      `json:"timestamp"`
	ThreadID      string         `json:"thread_id"`
	TurnID        string         `json:"turn_id,omitempty"`
	ItemID        string         `json:"item_id,omitempty"`
	EventType     string         `json:"event"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Well-known event type strings. The closed set the engine emits lives in
// the engine package; this is the open, string-typed wire form the log and
// HTTP API persist and forward, kept stringly for forward compatibility.
const (
	EventTurnStarted           = "turn.started"
	EventTurnSteered           = "turn.steered"
	EventTurnInterruptRequest  = "turn.interrupt_requested"
	EventTurnCompleted         = "turn.completed"
	EventMessageStarted        = "message.started"
	EventMessageDelta          = "message.delta"
	EventMessageComplete       = "message.complete"
	EventThinkingStarted       = "thinking.started"
	EventThinkingDelta         = "thinking.delta"
	EventThinkingComplete      = "thinking.complete"
	EventToolCallStarted       = "tool_call.started"
	EventToolCallProgress      = "tool_call.progress"
	EventToolCallComplete      = "tool_call.complete"
	EventCompactionStarted     = "compaction.started"
	EventCompactionCompleted   = "compaction.completed"
	EventCompactionFailed      = "compaction.failed"
	EventCapacityDecision      = "capacity.decision"
	EventCapacityIntervention  = "capacity.intervention"
	EventApprovalRequired      = "approval.required"
	EventElevationRequired     = "elevation.required"
	EventAgentSpawned          = "agent.spawned"
	EventAgentProgress         = "agent.progress"
	EventAgentComplete         = "agent.complete"
	EventError                 = "error"
	EventStatus                = "status"
)

const schemaVersion = 1
