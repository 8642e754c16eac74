package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wagmii/core/internal/config"
	"github.com/wagmii/core/internal/httpapi"
	"github.com/wagmii/core/internal/mcp"
	"github.com/wagmii/core/internal/tasks"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Nexus HTTP/SSE API server",
		Long: `Start the agent engine and its HTTP/SSE API.

The server will:
1. Load configuration from the specified file (or nexus.yaml)
2. Construct the LLM provider, runtime thread manager, and engine
3. Start the HTTP/SSE API for threads, sessions, automations, and tasks
4. Start the automation scheduler, if enabled

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := newLogger(level)
	slog.SetDefault(logger)

	logger.Info("starting nexus", "version", version, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := buildApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	var taskStore tasks.Store
	if cfg.Database.URL != "" {
		store, err := tasks.NewCockroachStoreFromDSN(cfg.Database.URL, nil)
		if err != nil {
			logger.Warn("task store disabled", "error", err)
		} else {
			taskStore = store
			defer func() { _ = store.Close() }()
		}
	}

	httpServer := httpapi.NewServer(httpapi.Dependencies{
		Engine:       application.engine,
		Logs:         application.logs,
		Sessions:     application.sessionStore,
		Automations:  application.automations,
		Tasks:        taskStore,
		Skills:       application.skills,
		MCP:          application.mcp,
		WorkspaceDir: cfg.Workspace.Path,
		AuthSecret:   cfg.Auth.JWTSecret,
		CORSOrigins:  cfg.Server.CORSOrigins,
		RateLimit:    cfg.Server.RateLimit,
		Logger:       logger,
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if application.mcp != nil {
		if err := application.mcp.Start(ctx); err != nil {
			logger.Warn("mcp manager failed to start", "error", err)
		} else {
			names := mcp.RegisterTools(application.runtime, application.mcp)
			logger.Info("registered MCP tools", "count", len(names))
		}
		defer func() { _ = application.mcp.Stop() }()
	}

	if application.automations != nil {
		application.automations.Start(ctx)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe(addr)
	}()

	logger.Info("nexus HTTP/SSE API listening", "addr", addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	logger.Info("shutdown signal received, draining in-flight requests")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if application.automations != nil {
		application.automations.Wait()
	}

	logger.Info("nexus stopped gracefully")
	return nil
}
