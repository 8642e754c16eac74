package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wagmii/core/internal/agent"
	"github.com/wagmii/core/internal/config"
	"github.com/wagmii/core/internal/jobs"
	"github.com/wagmii/core/internal/models"
	"github.com/wagmii/core/internal/runtimelog"
	"github.com/wagmii/core/internal/sessions"
	"github.com/wagmii/core/internal/skills"
	"github.com/wagmii/core/internal/tools/browser"
	exectools "github.com/wagmii/core/internal/tools/exec"
	"github.com/wagmii/core/internal/tools/files"
	jobtools "github.com/wagmii/core/internal/tools/jobs"
	modelstools "github.com/wagmii/core/internal/tools/models"
	"github.com/wagmii/core/internal/tools/review"
	"github.com/wagmii/core/internal/tools/sandbox"
	"github.com/wagmii/core/internal/tools/sandbox/firecracker"
	"github.com/wagmii/core/internal/tools/semanticsearch"
	sessiontools "github.com/wagmii/core/internal/tools/sessions"
	"github.com/wagmii/core/internal/tools/subagent"
	systemtools "github.com/wagmii/core/internal/tools/system"
	"github.com/wagmii/core/internal/tools/websearch"
	"github.com/wagmii/core/internal/usage"
)

// toolDeps carries the subsystems tools need beyond the config itself.
type toolDeps struct {
	sessions  sessions.Store
	logs      *runtimelog.Manager
	jobStore  jobs.Store
	skills    *skills.Manager
	subagents *subagent.Manager
	reviewer  review.Completer
	logger    *slog.Logger
}

// registerTools registers all enabled tools with the runtime.
func registerTools(ctx context.Context, runtime *agent.Runtime, cfg *config.Config, deps toolDeps) error {
	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Tools.Sandbox.Enabled {
		opts := []sandbox.Option{}
		backend := strings.ToLower(strings.TrimSpace(cfg.Tools.Sandbox.Backend))
		switch backend {
		case "", "docker":
			// default
		case "firecracker":
			fcConfig := firecracker.DefaultBackendConfig()
			fcConfig.NetworkEnabled = cfg.Tools.Sandbox.NetworkEnabled
			if cfg.Tools.Sandbox.PoolSize > 0 {
				fcConfig.PoolConfig.InitialSize = cfg.Tools.Sandbox.PoolSize
				if cfg.Tools.Sandbox.MinIdle == 0 {
					fcConfig.PoolConfig.MinIdle = cfg.Tools.Sandbox.PoolSize
				}
			}
			if cfg.Tools.Sandbox.MaxPoolSize > 0 {
				fcConfig.PoolConfig.MaxSize = cfg.Tools.Sandbox.MaxPoolSize
			}
			if cfg.Tools.Sandbox.MinIdle > 0 {
				fcConfig.PoolConfig.MinIdle = cfg.Tools.Sandbox.MinIdle
			}
			if cfg.Tools.Sandbox.Limits.MaxCPU > 0 {
				vcpus := int64((cfg.Tools.Sandbox.Limits.MaxCPU + 999) / 1000)
				if vcpus < 1 {
					vcpus = 1
				}
				fcConfig.DefaultVCPUs = vcpus
				fcConfig.PoolConfig.DefaultVCPUs = vcpus
			}
			if memMB, err := parseMemoryMB(cfg.Tools.Sandbox.Limits.MaxMemory); err == nil && memMB > 0 {
				fcConfig.DefaultMemMB = int64(memMB)
				fcConfig.PoolConfig.DefaultMemMB = int64(memMB)
			}
			fcBackend, err := firecracker.NewBackend(fcConfig)
			if err != nil {
				logger.Warn("firecracker backend unavailable, falling back to docker", "error", err)
			} else if err := fcBackend.Start(ctx); err != nil {
				logger.Warn("firecracker backend start failed, falling back to docker", "error", err)
				_ = fcBackend.Close()
			} else {
				sandbox.InitFirecrackerBackend(fcBackend)
				opts = append(opts, sandbox.WithBackend(sandbox.BackendFirecracker))
			}
		default:
			return fmt.Errorf("unsupported sandbox backend %q", backend)
		}

		if cfg.Tools.Sandbox.PoolSize > 0 {
			opts = append(opts, sandbox.WithPoolSize(cfg.Tools.Sandbox.PoolSize))
		}
		if cfg.Tools.Sandbox.MaxPoolSize > 0 {
			opts = append(opts, sandbox.WithMaxPoolSize(cfg.Tools.Sandbox.MaxPoolSize))
		}
		if cfg.Tools.Sandbox.Timeout > 0 {
			opts = append(opts, sandbox.WithDefaultTimeout(cfg.Tools.Sandbox.Timeout))
		}
		if cfg.Tools.Sandbox.NetworkEnabled {
			opts = append(opts, sandbox.WithNetworkEnabled(true))
		}
		if cfg.Workspace.Path != "" {
			opts = append(opts, sandbox.WithWorkspaceRoot(cfg.Workspace.Path))
		}
		if err := sandbox.Register(runtime, opts...); err != nil {
			return fmt.Errorf("sandbox tool: %w", err)
		}
	}

	fileCfg := files.Config{Workspace: cfg.Workspace.Path}
	runtime.RegisterTool(files.NewReadTool(fileCfg))
	runtime.RegisterTool(files.NewWriteTool(fileCfg))
	runtime.RegisterTool(files.NewEditTool(fileCfg))
	runtime.RegisterTool(files.NewApplyPatchTool(fileCfg))

	execManager := exectools.NewManager(cfg.Workspace.Path)
	runtime.RegisterTool(exectools.NewExecTool("exec", execManager))
	runtime.RegisterTool(exectools.NewExecTool("bash", execManager))
	runtime.RegisterTool(exectools.NewProcessTool(execManager))

	if deps.sessions != nil {
		runtime.RegisterTool(sessiontools.NewListTool(deps.sessions, cfg.Session.DefaultAgentID))
		runtime.RegisterTool(sessiontools.NewHistoryTool(deps.sessions))
		runtime.RegisterTool(sessiontools.NewStatusTool(deps.sessions))
		runtime.RegisterTool(sessiontools.NewSendTool(deps.sessions, runtime))
	}

	if deps.jobStore != nil {
		runtime.RegisterTool(jobtools.NewStatusTool(deps.jobStore))
		runtime.RegisterTool(jobtools.NewCancelTool(deps.jobStore))
		runtime.RegisterTool(jobtools.NewListTool(deps.jobStore))
	}

	catalog := models.NewCatalog()
	runtime.RegisterTool(modelstools.NewTool(catalog, nil))

	if deps.subagents != nil {
		runtime.RegisterTool(subagent.NewSpawnTool(deps.subagents))
		runtime.RegisterTool(subagent.NewStatusTool(deps.subagents))
		runtime.RegisterTool(subagent.NewCancelTool(deps.subagents))
		runtime.RegisterTool(subagent.NewSwarmTool(deps.subagents))
	}

	if deps.logs != nil {
		runtime.RegisterTool(systemtools.NewDiagnosticTool(runtimeDiagnostics{logs: deps.logs, subagents: deps.subagents}))
	}
	runtime.RegisterTool(systemtools.NewHealthTool(healthProbe{workspace: cfg.Workspace.Path, subagents: deps.subagents}))

	usageRegistry := usage.NewUsageFetcherRegistry()
	for name, providerCfg := range cfg.LLM.Providers {
		if providerCfg.APIKey == "" {
			continue
		}
		switch name {
		case "anthropic":
			usageRegistry.Register(&usage.AnthropicUsageFetcher{APIKey: providerCfg.APIKey})
		case "openai":
			usageRegistry.Register(&usage.OpenAIUsageFetcher{APIKey: providerCfg.APIKey})
		case "google":
			usageRegistry.Register(&usage.GeminiUsageFetcher{APIKey: providerCfg.APIKey})
		}
	}
	runtime.RegisterTool(systemtools.NewUsageTool(usageFetch{registry: usageRegistry}))

	runtime.RegisterTool(review.NewTool(review.Config{Workspace: cfg.Workspace.Path}, deps.reviewer))
	runtime.RegisterTool(semanticsearch.NewTool(semanticsearch.Config{Workspace: cfg.Workspace.Path}))

	if cfg.Tools.Browser.Enabled {
		pool, err := browser.NewPool(browser.PoolConfig{
			Headless: cfg.Tools.Browser.Headless,
		})
		if err != nil {
			return fmt.Errorf("browser pool: %w", err)
		}
		runtime.RegisterTool(browser.NewBrowserTool(pool))
		runtime.RegisterTool(browser.NewRelayTool(browser.NewRelay()))
	}

	if cfg.Tools.WebSearch.Enabled {
		searchConfig := &websearch.Config{
			SearXNGURL:  cfg.Tools.WebSearch.URL,
			BraveAPIKey: cfg.Tools.WebSearch.BraveAPIKey,
		}
		switch strings.ToLower(strings.TrimSpace(cfg.Tools.WebSearch.Provider)) {
		case string(websearch.BackendSearXNG):
			searchConfig.DefaultBackend = websearch.BackendSearXNG
		case string(websearch.BackendBraveSearch):
			searchConfig.DefaultBackend = websearch.BackendBraveSearch
		case string(websearch.BackendDuckDuckGo):
			searchConfig.DefaultBackend = websearch.BackendDuckDuckGo
		default:
			if searchConfig.SearXNGURL != "" {
				searchConfig.DefaultBackend = websearch.BackendSearXNG
			} else {
				searchConfig.DefaultBackend = websearch.BackendDuckDuckGo
			}
		}
		runtime.RegisterTool(websearch.NewWebSearchTool(searchConfig))
	}

	if cfg.Tools.WebFetch.Enabled {
		fetchConfig := &websearch.FetchConfig{
			MaxChars: cfg.Tools.WebFetch.MaxChars,
		}
		runtime.RegisterTool(websearch.NewWebFetchTool(fetchConfig))
	}

	if deps.skills != nil {
		for _, skill := range deps.skills.ListEligible() {
			for _, tool := range skills.BuildSkillTools(skill, execManager) {
				runtime.RegisterTool(tool)
			}
		}
	}

	return nil
}

// runtimeDiagnostics adapts the runtime log and sub-agent pool to the
// diagnostic tool's provider interface.
type runtimeDiagnostics struct {
	logs      *runtimelog.Manager
	subagents *subagent.Manager
}

func (d runtimeDiagnostics) GetEngineStats() systemtools.EngineStats {
	stats := systemtools.EngineStats{}
	if d.logs != nil {
		threads := d.logs.ListThreads(true)
		for _, t := range threads {
			if t.Archived {
				stats.ArchivedThreads++
			} else {
				stats.ActiveThreads++
			}
		}
	}
	if d.subagents != nil {
		stats.ActiveSubAgents = d.subagents.ActiveCount()
	}
	return stats
}

// healthProbe implements the health tool's provider over the workspace and
// sub-agent pool.
type healthProbe struct {
	workspace string
	subagents *subagent.Manager
}

func (p healthProbe) Check(ctx context.Context, opts *systemtools.HealthCheckOptions) (*systemtools.HealthSummary, error) {
	start := time.Now()
	summary := &systemtools.HealthSummary{OK: true, Ts: start.UnixMilli()}

	if opts == nil || opts.ProbeWorkspace == nil || *opts.ProbeWorkspace {
		root := p.workspace
		if root == "" {
			root = "."
		}
		ws := &systemtools.WorkspaceHealth{Root: root}
		if info, err := os.Stat(root); err == nil && info.IsDir() {
			ws.Reachable = true
			if _, err := os.Stat(filepath.Join(root, ".git")); err == nil {
				ws.GitRepo = true
			}
		} else {
			summary.OK = false
		}
		summary.Workspace = ws
	}

	if p.subagents != nil && (opts == nil || opts.ProbeSubAgents == nil || *opts.ProbeSubAgents) {
		summary.SubAgents = &systemtools.SubAgentHealth{
			MaxAgents:      p.subagents.ActiveCount() + p.subagents.AvailableSlots(),
			AvailableSlots: p.subagents.AvailableSlots(),
		}
	}

	summary.DurationMs = time.Since(start).Milliseconds()
	return summary, nil
}

// usageFetch adapts the provider usage registry to the usage tool.
type usageFetch struct {
	registry *usage.UsageFetcherRegistry
}

func (u usageFetch) Get(ctx context.Context, provider string) (*usage.ProviderUsage, error) {
	return u.registry.Fetch(ctx, provider)
}

func (u usageFetch) GetAll(ctx context.Context) []*usage.ProviderUsage {
	return u.registry.FetchAll(ctx)
}

// parseMemoryMB parses strings like "512m", "2g", or plain megabyte counts.
func parseMemoryMB(value string) (int, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return 0, fmt.Errorf("empty memory value")
	}
	mult := 1
	switch {
	case strings.HasSuffix(v, "g"), strings.HasSuffix(v, "gb"):
		mult = 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "b"), "g")
	case strings.HasSuffix(v, "m"), strings.HasSuffix(v, "mb"):
		v = strings.TrimSuffix(strings.TrimSuffix(v, "b"), "m")
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}
