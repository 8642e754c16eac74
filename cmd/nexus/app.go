package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/wagmii/core/internal/agent"
	"github.com/wagmii/core/internal/agent/providers"
	"github.com/wagmii/core/internal/agent/routing"
	"github.com/wagmii/core/internal/artifacts"
	"github.com/wagmii/core/internal/audit"
	"github.com/wagmii/core/internal/automation"
	"github.com/wagmii/core/internal/capacity"
	"github.com/wagmii/core/internal/compaction"
	"github.com/wagmii/core/internal/config"
	"github.com/wagmii/core/internal/engine"
	"github.com/wagmii/core/internal/jobs"
	"github.com/wagmii/core/internal/mcp"
	"github.com/wagmii/core/internal/runtimelog"
	"github.com/wagmii/core/internal/security"
	"github.com/wagmii/core/internal/sessions"
	"github.com/wagmii/core/internal/skills"
	"github.com/wagmii/core/internal/tools/subagent"
	"github.com/wagmii/core/internal/workspace"
	"github.com/wagmii/core/pkg/models"
)

// app bundles every subsystem constructed from one config.Config.
type app struct {
	cfg *config.Config

	sessionStore sessions.Store
	runtime      *agent.Runtime
	logs         *runtimelog.Manager
	engine       *engine.Engine
	automations  *automation.Scheduler
	skills       *skills.Manager
	mcp          *mcp.Manager
	subagents    *subagent.Manager

	logger *slog.Logger
}

// buildApp wires one config.Config into a running set of subsystems. It
// never starts network listeners; callers (serve, run) decide what to do
// with the result.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}

	for _, finding := range security.AuditGatewayConfig(cfg) {
		logger.Warn("startup security finding", "finding", finding)
	}

	provider, err := selectProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("selecting LLM provider: %w", err)
	}

	sessionStore := sessions.NewMemoryStore()

	runtime := agent.NewRuntime(provider, sessionStore)

	if wsCtx, err := workspace.LoadWorkspace(workspace.LoaderConfigFromConfig(cfg)); err != nil {
		logger.Warn("workspace context unavailable", "error", err)
	} else if promptCtx := wsCtx.SystemPromptContext(); promptCtx != "" {
		runtime.SetSystemPrompt(promptCtx)
	}

	jobStore := jobs.NewMemoryStore()
	runtime.SetOptions(agent.RuntimeOptions{JobStore: jobStore})

	if tracePath := os.Getenv("NEXUS_TRACE_FILE"); tracePath != "" {
		tracer, err := agent.NewTracePluginFile(tracePath, uuid.NewString())
		if err != nil {
			logger.Warn("trace recording disabled", "error", err)
		} else {
			runtime.Use(tracer)
		}
	}

	if cfg.Server.Audit.Enabled {
		auditLog, err := audit.NewLogger(cfg.Server.Audit)
		if err != nil {
			logger.Warn("audit logging disabled", "error", err)
		} else {
			runtime.Use(agent.PluginFunc(func(ctx context.Context, e models.AgentEvent) {
				if e.Tool == nil {
					return
				}
				switch e.Type {
				case models.AgentEventToolStarted:
					auditLog.LogToolInvocation(ctx, e.Tool.Name, e.Tool.CallID, e.Tool.ArgsJSON, "")
				case models.AgentEventToolFinished:
					auditLog.LogToolCompletion(ctx, e.Tool.Name, e.Tool.CallID, e.Tool.Success, string(e.Tool.ResultJSON), 0, "")
				}
			}))
		}
	}

	dataDir := ".nexus"
	if cfg.Workspace.Path != "" {
		dataDir = filepath.Join(cfg.Workspace.Path, ".nexus")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	logs, err := runtimelog.NewManager(filepath.Join(dataDir, "runtime-log"))
	if err != nil {
		return nil, fmt.Errorf("opening runtime log: %w", err)
	}
	if archive, err := runtimelog.OpenSQLiteEventStore(filepath.Join(dataDir, "runtime-log.db")); err != nil {
		logger.Warn("event archive disabled", "error", err)
	} else {
		logs.SetArchive(archive)
	}

	capController := capacity.New(cfg.Capacity)
	memPath := cfg.Capacity.MemoryPath
	if memPath == "" {
		memPath = filepath.Join(dataDir, "capacity-memory.jsonl")
	}
	capMemory, err := capacity.NewMemory(memPath)
	if err != nil {
		return nil, fmt.Errorf("opening capacity memory: %w", err)
	}

	summarizer := providerSummarizer{provider: provider}
	eng := engine.New(
		runtime,
		sessionStore,
		logs,
		capController,
		capMemory,
		compaction.FromConfig(cfg.Session.Compaction),
		summarizer,
		cfg.Session.WorkingSet,
		logger,
	)

	providerName := cfg.LLM.DefaultProvider
	if providerName == "" {
		providerName = "anthropic"
	}
	if artifactStore, err := artifacts.NewLocalStore(filepath.Join(dataDir, "artifacts")); err != nil {
		logger.Warn("artifact store disabled", "error", err)
	} else if repo, err := artifacts.NewPersistentRepository(artifactStore, filepath.Join(dataDir, "artifacts", "metadata.json"), logger); err != nil {
		logger.Warn("artifact repository disabled", "error", err)
	} else {
		eng.SetArtifactStore(repo)
	}

	if oauthCfg := cfg.LLM.Providers[providerName].OAuth; oauthCfg.TokenURL != "" {
		cred, err := providers.NewOAuthCredential(context.Background(), providers.OAuthCredentialConfig{
			ClientID:     oauthCfg.ClientID,
			ClientSecret: oauthCfg.ClientSecret,
			TokenURL:     oauthCfg.TokenURL,
			RefreshToken: oauthCfg.RefreshToken,
			Scopes:       oauthCfg.Scopes,
		})
		if err != nil {
			logger.Warn("oauth credential disabled", "provider", providerName, "error", err)
		} else {
			eng.SetAPIKeyResolver(cred.Resolver())
		}
	}

	skillsMgr, err := skills.NewManager(&cfg.Skills, cfg.Workspace.Path, nil)
	if err != nil {
		logger.Warn("skills manager disabled", "error", err)
		skillsMgr = nil
	}

	subagents := subagent.NewManager(runtime, cfg.SubAgents.MaxAgents)

	if err := registerTools(context.Background(), runtime, cfg, toolDeps{
		sessions:  sessionStore,
		logs:      logs,
		jobStore:  jobStore,
		skills:    skillsMgr,
		subagents: subagents,
		reviewer:  providerReviewer{provider: provider},
		logger:    logger,
	}); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	mcpMgr := mcp.NewManager(&cfg.MCP, logger)

	var automations *automation.Scheduler
	if cfg.Automation.Enabled {
		store, err := automation.NewStore(filepath.Join(dataDir, "automations"))
		if err != nil {
			return nil, fmt.Errorf("opening automation store: %w", err)
		}
		automations, err = automation.NewScheduler(cfg.Automation, store, eng, logger)
		if err != nil {
			return nil, fmt.Errorf("starting automation scheduler: %w", err)
		}
	}

	return &app{
		cfg:          cfg,
		sessionStore: sessionStore,
		runtime:      runtime,
		logs:         logs,
		engine:       eng,
		automations:  automations,
		skills:       skillsMgr,
		mcp:          mcpMgr,
		subagents:    subagents,
		logger:       logger,
	}, nil
}

// selectProvider builds the configured default LLM provider. With routing
// enabled it instead returns a router over every configured provider, which
// itself satisfies agent.LLMProvider.
func selectProvider(cfg config.LLMConfig) (agent.LLMProvider, error) {
	name := cfg.DefaultProvider
	if name == "" {
		name = "anthropic"
	}

	if cfg.Routing.Enabled {
		providerMap := make(map[string]agent.LLMProvider, len(cfg.Providers))
		localProviders := []string{}
		for providerName := range cfg.Providers {
			p, err := buildProvider(cfg, providerName)
			if err != nil {
				continue
			}
			providerMap[providerName] = p
			if providerName == "ollama" {
				localProviders = append(localProviders, providerName)
			}
		}
		if _, ok := providerMap[name]; !ok {
			p, err := buildProvider(cfg, name)
			if err != nil {
				return nil, fmt.Errorf("building default provider for router: %w", err)
			}
			providerMap[name] = p
		}

		rules := make([]routing.Rule, 0, len(cfg.Routing.Rules))
		for _, rule := range cfg.Routing.Rules {
			rules = append(rules, routing.Rule{
				Name: rule.Name,
				Match: routing.Match{
					Patterns: rule.Match.Patterns,
					Tags:     rule.Match.Tags,
				},
				Target: routing.Target{
					Provider: rule.Target.Provider,
					Model:    rule.Target.Model,
				},
			})
		}
		return routing.NewRouter(routing.Config{
			DefaultProvider: name,
			PreferLocal:     cfg.Routing.PreferLocal,
			LocalProviders:  localProviders,
			Rules:           rules,
			Fallback: routing.Target{
				Provider: cfg.Routing.Fallback.Provider,
				Model:    cfg.Routing.Fallback.Model,
			},
			FailureCooldown: cfg.Routing.UnhealthyCooldown,
		}, providerMap), nil
	}

	primary, err := buildProvider(cfg, name)
	if err != nil {
		return nil, err
	}

	if len(cfg.FallbackChain) > 0 {
		orch := agent.NewFailoverOrchestrator(primary, nil)
		for _, fallbackName := range cfg.FallbackChain {
			if fallbackName == name {
				continue
			}
			fallback, err := buildProvider(cfg, fallbackName)
			if err != nil {
				continue
			}
			orch.AddProvider(fallback)
		}
		return orch, nil
	}

	return primary, nil
}

// buildProvider creates a single LLM provider by name.
func buildProvider(cfg config.LLMConfig, name string) (agent.LLMProvider, error) {
	providerCfg := cfg.Providers[name]

	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       providerCfg.APIKey,
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(providerCfg.APIKey), nil
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
		})
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region: cfg.Bedrock.Region,
		})
	case "azure":
		return providers.NewAzureOpenAIProvider(providers.AzureOpenAIConfig{
			Endpoint:   providerCfg.BaseURL,
			APIKey:     providerCfg.APIKey,
			APIVersion: providerCfg.APIVersion,
		})
	case "openrouter":
		return providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:       providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
		})
	case "copilot":
		return providers.NewCopilotProxyProvider(providers.CopilotProxyConfig{
			BaseURL: providerCfg.BaseURL,
		})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}
