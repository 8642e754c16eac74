package config

import "time"

// SessionConfig configures the conversation store and compaction.
type SessionConfig struct {
	// DefaultAgentID names the sub-agent definition used for the root thread.
	DefaultAgentID string `yaml:"default_agent_id"`

	// Compaction controls should_compact/plan_compaction/compact_messages.
	Compaction CompactionConfig `yaml:"compaction"`

	// WorkingSet controls the working-set tracker's scoring and pruning.
	WorkingSet WorkingSetConfig `yaml:"working_set"`

	// ContextPruning controls in-memory tool result pruning, independent of
	// full compaction.
	ContextPruning ContextPruningConfig `yaml:"context_pruning"`
}

// CompactionConfig mirrors the compaction thresholds and pin rules used by
// should_compact/plan_compaction/compact_messages.
type CompactionConfig struct {
	Enabled bool `yaml:"enabled"`

	// TokenThreshold and MessageThreshold gate should_compact.
	TokenThreshold   int `yaml:"token_threshold"`
	MessageThreshold int `yaml:"message_threshold"`

	// PinnedRecentCount is K, the number of most-recent messages always pinned.
	PinnedRecentCount int `yaml:"pinned_recent_count"`

	// MinUnpinnedMessages is the floor below which should_compact never fires.
	MinUnpinnedMessages int `yaml:"min_unpinned_messages"`

	// SummaryModel is the model used for the one-shot summarization request.
	SummaryModel string `yaml:"summary_model"`
}

// WorkingSetConfig controls the working-set tracker's pruning parameters.
type WorkingSetConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// ContextPruningConfig controls in-memory tool result pruning for sessions.
type ContextPruningConfig struct {
	Mode                 string                  `yaml:"mode"`
	TTL                  *time.Duration          `yaml:"ttl"`
	KeepLastAssistants   *int                    `yaml:"keep_last_assistants"`
	SoftTrimRatio        *float64                `yaml:"soft_trim_ratio"`
	HardClearRatio       *float64                `yaml:"hard_clear_ratio"`
	MinPrunableToolChars *int                    `yaml:"min_prunable_tool_chars"`
	Tools                ContextPruningToolMatch `yaml:"tools"`
	SoftTrim             ContextPruningSoftTrim  `yaml:"soft_trim"`
	HardClear            ContextPruningHardClear `yaml:"hard_clear"`
}

// ContextPruningToolMatch selects which tool results can be trimmed.
type ContextPruningToolMatch struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// ContextPruningSoftTrim configures soft trimming of tool result content.
type ContextPruningSoftTrim struct {
	MaxChars  *int `yaml:"max_chars"`
	HeadChars *int `yaml:"head_chars"`
	TailChars *int `yaml:"tail_chars"`
}

// ContextPruningHardClear configures hard clearing of tool result content.
type ContextPruningHardClear struct {
	Enabled     *bool  `yaml:"enabled"`
	Placeholder string `yaml:"placeholder"`
}
