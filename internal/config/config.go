package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wagmii/core/internal/mcp"
	"github.com/wagmii/core/internal/skills"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the engine process: the HTTP/SSE
// API server, the conversation store, the tool registry, and the automation
// scheduler.
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Database   DatabaseConfig            `yaml:"database"`
	Auth       AuthConfig                `yaml:"auth"`
	Session    SessionConfig             `yaml:"session"`
	Capacity   CapacityConfig            `yaml:"capacity"`
	Workspace  WorkspaceConfig           `yaml:"workspace"`
	Skills     skills.SkillsConfig       `yaml:"skills"`
	MCP        mcp.Config                `yaml:"mcp"`
	LLM        LLMConfig                 `yaml:"llm"`
	Tools      ToolsConfig               `yaml:"tools"`
	Automation AutomationConfig          `yaml:"automation"`
	Tasks      TasksConfig               `yaml:"tasks"`
	SubAgents  SubAgentsConfig           `yaml:"sub_agents"`
	Logging    LoggingConfig             `yaml:"logging"`
}

// CapacityConfig configures the capacity controller.
type CapacityConfig struct {
	Enabled bool `yaml:"enabled"`

	// ContextWindow is the declared model context window in tokens.
	ContextWindow int `yaml:"context_window"`

	// MinSlack is the token slack below which risk becomes Severe.
	MinSlack int `yaml:"min_slack"`

	// SevereViolationRatio escalates risk to Severe even above MinSlack.
	SevereViolationRatio float64 `yaml:"severe_violation_ratio"`

	// ProfileWindow is how many recent turns feed the sliding-window forecast.
	ProfileWindow int `yaml:"profile_window"`

	// Cooldowns, in turns, per intervention kind.
	CompactCooldownTurns int `yaml:"compact_cooldown_turns"`
	ReplanCooldownTurns  int `yaml:"replan_cooldown_turns"`
	ReplayCooldownTurns  int `yaml:"replay_cooldown_turns"`

	// MemoryPath is where capacity-memory records are appended (JSONL).
	MemoryPath string `yaml:"memory_path"`
}

// AutomationConfig configures the durable recurring-job scheduler.
type AutomationConfig struct {
	Enabled      bool                  `yaml:"enabled"`
	TickInterval time.Duration         `yaml:"tick_interval"`
	Jobs         []AutomationJobConfig `yaml:"jobs"`
}

// AutomationJobConfig declares one automation at startup time; additional
// automations are created at runtime via the HTTP API.
type AutomationJobConfig struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Prompt string   `yaml:"prompt"`
	RRule  string   `yaml:"rrule"`
	CWDs   []string `yaml:"cwds"`
}

// TasksConfig configures the background task queue backing automation runs
// and async tool jobs.
type TasksConfig struct {
	Enabled         bool          `yaml:"enabled"`
	WorkerID        string        `yaml:"worker_id"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	AcquireInterval time.Duration `yaml:"acquire_interval"`
	LockDuration    time.Duration `yaml:"lock_duration"`
	MaxConcurrency  int           `yaml:"max_concurrency"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	StaleTimeout    time.Duration `yaml:"stale_timeout"`
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
}

// SubAgentsConfig configures the sub-agent pool.
type SubAgentsConfig struct {
	MaxAgents       int           `yaml:"max_agents"`
	SwarmPollMs     time.Duration `yaml:"swarm_poll_ms"`
	SwarmTimeoutSec int           `yaml:"swarm_timeout_sec"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyAuthDefaults(&cfg.Auth)
	applySessionDefaults(&cfg.Session)
	applyCapacityDefaults(&cfg.Capacity)
	applyWorkspaceDefaults(&cfg.Workspace)
	applyToolsDefaults(cfg)
	applyLLMDefaults(&cfg.LLM)
	applyLoggingDefaults(&cfg.Logging)
	applyAutomationDefaults(&cfg.Automation)
	applyTasksDefaults(&cfg.Tasks)
	applySubAgentsDefaults(&cfg.SubAgents)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.DefaultAgentID == "" {
		cfg.DefaultAgentID = "main"
	}
	if cfg.Compaction.TokenThreshold == 0 {
		cfg.Compaction.TokenThreshold = 60000
	}
	if cfg.Compaction.MessageThreshold == 0 {
		cfg.Compaction.MessageThreshold = 60
	}
	if cfg.Compaction.PinnedRecentCount == 0 {
		cfg.Compaction.PinnedRecentCount = 4
	}
	if cfg.Compaction.MinUnpinnedMessages == 0 {
		cfg.Compaction.MinUnpinnedMessages = 6
	}
	if cfg.Compaction.SummaryModel == "" {
		cfg.Compaction.SummaryModel = "claude-haiku-4"
	}
	if cfg.WorkingSet.MaxEntries == 0 {
		cfg.WorkingSet.MaxEntries = 16
	}
}

func applyCapacityDefaults(cfg *CapacityConfig) {
	if cfg.ContextWindow == 0 {
		cfg.ContextWindow = 200000
	}
	if cfg.MinSlack == 0 {
		cfg.MinSlack = 4000
	}
	if cfg.SevereViolationRatio == 0 {
		cfg.SevereViolationRatio = 1.1
	}
	if cfg.ProfileWindow == 0 {
		cfg.ProfileWindow = 8
	}
	if cfg.CompactCooldownTurns == 0 {
		cfg.CompactCooldownTurns = 3
	}
	if cfg.ReplanCooldownTurns == 0 {
		cfg.ReplanCooldownTurns = 5
	}
	if cfg.ReplayCooldownTurns == 0 {
		cfg.ReplayCooldownTurns = 5
	}
}

func applyWorkspaceDefaults(cfg *WorkspaceConfig) {
	if cfg.Path == "" {
		cfg.Path = "."
	}
	if cfg.MaxChars == 0 {
		cfg.MaxChars = 20000
	}
	if cfg.AgentsFile == "" {
		cfg.AgentsFile = "AGENTS.md"
	}
	if cfg.ToolsFile == "" {
		cfg.ToolsFile = "TOOLS.md"
	}
}

func applyToolsDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Tools.Jobs.Retention == 0 {
		cfg.Tools.Jobs.Retention = 24 * time.Hour
	}
	if cfg.Tools.Jobs.PruneInterval == 0 {
		cfg.Tools.Jobs.PruneInterval = 1 * time.Hour
	}
	if cfg.Tools.Execution.MaxIterations == 0 {
		cfg.Tools.Execution.MaxIterations = 100
	}
	if cfg.Tools.Execution.Approval.RequestTTL == 0 {
		cfg.Tools.Execution.Approval.RequestTTL = 120 * time.Second
	}
}

// DefaultWorkspaceConfig returns a workspace config with defaults applied.
func DefaultWorkspaceConfig() WorkspaceConfig {
	cfg := WorkspaceConfig{}
	applyWorkspaceDefaults(&cfg)
	return cfg
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyAutomationDefaults(cfg *AutomationConfig) {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 15 * time.Second
	}
}

func applyTasksDefaults(cfg *TasksConfig) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.AcquireInterval == 0 {
		cfg.AcquireInterval = 1 * time.Second
	}
	if cfg.LockDuration == 0 {
		cfg.LockDuration = 10 * time.Minute
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.StaleTimeout == 0 {
		cfg.StaleTimeout = 30 * time.Minute
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
}

func applySubAgentsDefaults(cfg *SubAgentsConfig) {
	if cfg.MaxAgents == 0 {
		cfg.MaxAgents = 5
	}
	if cfg.SwarmPollMs == 0 {
		cfg.SwarmPollMs = 250 * time.Millisecond
	}
	if cfg.SwarmTimeoutSec == 0 {
		cfg.SwarmTimeoutSec = 600
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("ENGINE_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("ENGINE_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("ENGINE_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("DATABASE_URL")); value != "" {
		cfg.Database.URL = value
	}
	if value := strings.TrimSpace(os.Getenv("JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("ENGINE_JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("ENGINE_TOKEN_EXPIRY")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			cfg.Auth.TokenExpiry = parsed
		}
	}
}

type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Session.Compaction.PinnedRecentCount < 0 {
		issues = append(issues, "session.compaction.pinned_recent_count must be >= 0")
	}
	if cfg.Session.Compaction.TokenThreshold < 0 {
		issues = append(issues, "session.compaction.token_threshold must be >= 0")
	}
	if cfg.Session.Compaction.MessageThreshold < 0 {
		issues = append(issues, "session.compaction.message_threshold must be >= 0")
	}
	if cfg.Session.WorkingSet.MaxEntries < 0 {
		issues = append(issues, "session.working_set.max_entries must be >= 0")
	}
	if cfg.Capacity.MinSlack < 0 {
		issues = append(issues, "capacity.min_slack must be >= 0")
	}
	if cfg.Capacity.ContextWindow < 0 {
		issues = append(issues, "capacity.context_window must be >= 0")
	}
	if cfg.Workspace.MaxChars < 0 {
		issues = append(issues, "workspace.max_chars must be >= 0")
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	seenKeys := map[string]struct{}{}
	for i, entry := range cfg.Auth.APIKeys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be set", i))
			continue
		}
		if _, ok := seenKeys[key]; ok {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be unique", i))
		} else {
			seenKeys[key] = struct{}{}
		}
	}

	if jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret); jwtSecret != "" {
		if len(jwtSecret) < 32 {
			issues = append(issues, "auth.jwt_secret must be at least 32 characters for security")
		}
	}

	if provider := strings.ToLower(strings.TrimSpace(cfg.Tools.WebSearch.Provider)); provider != "" {
		switch provider {
		case "searxng", "brave", "duckduckgo":
		default:
			issues = append(issues, "tools.websearch.provider must be \"searxng\", \"brave\", or \"duckduckgo\"")
		}
	}
	if cfg.Tools.Execution.MaxIterations < 0 {
		issues = append(issues, "tools.execution.max_iterations must be >= 0")
	}
	if cfg.Tools.Execution.Parallelism < 0 {
		issues = append(issues, "tools.execution.parallelism must be >= 0")
	}
	if cfg.Tools.Execution.Timeout < 0 {
		issues = append(issues, "tools.execution.timeout must be >= 0")
	}
	if cfg.Tools.Execution.MaxAttempts < 0 {
		issues = append(issues, "tools.execution.max_attempts must be >= 0")
	}
	if cfg.Tools.Execution.RetryBackoff < 0 {
		issues = append(issues, "tools.execution.retry_backoff must be >= 0")
	}
	if profile := strings.ToLower(strings.TrimSpace(cfg.Tools.Execution.Approval.Profile)); profile != "" {
		switch profile {
		case "coding", "readonly", "full", "minimal":
		default:
			issues = append(issues, "tools.execution.approval.profile must be \"coding\", \"readonly\", \"full\", or \"minimal\"")
		}
	}

	if cfg.Automation.Enabled {
		for i, job := range cfg.Automation.Jobs {
			if strings.TrimSpace(job.ID) == "" {
				issues = append(issues, fmt.Sprintf("automation.jobs[%d].id is required", i))
			}
			if strings.TrimSpace(job.RRule) == "" {
				issues = append(issues, fmt.Sprintf("automation.jobs[%d].rrule is required", i))
			}
		}
	}

	if cfg.SubAgents.MaxAgents < 1 || cfg.SubAgents.MaxAgents > 5 {
		issues = append(issues, "sub_agents.max_agents must be between 1 and 5")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}

	return nil
}
