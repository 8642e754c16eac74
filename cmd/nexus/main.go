// Package main is the CLI entry point for the Nexus agent engine: a single
// conversational agent loop (LLM transport, tool registry, shell sandbox,
// sub-agents, capacity control) fronted by an HTTP/SSE API and a cron-style
// automation scheduler.
//
// # Basic Usage
//
// Start the server:
//
//	nexus serve --config nexus.yaml
//
// Inspect threads or sessions without starting the server:
//
//	nexus threads list
//	nexus sessions list
//
// # Environment Variables
//
//   - NEXUS_CONFIG: path to the configuration file (default: nexus.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: LLM provider credentials
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wagmii/core/internal/profile"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := newLogger(slog.LevelInfo)
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() so tests can exercise it without os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nexus",
		Short: "Nexus agent engine",
		Long: `Nexus runs a single conversational coding-agent loop backed by a
pluggable LLM provider, a tool registry, a shell/sandbox manager, and an
HTTP/SSE API for driving it from an external front-end.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildThreadsCmd(),
		buildSessionsCmd(),
		buildAutomationsCmd(),
		buildMCPCmd(),
		buildSkillsCmd(),
		buildRunCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("NEXUS_CONFIG"); env != "" {
		return env
	}
	return profile.DefaultConfigPath()
}
