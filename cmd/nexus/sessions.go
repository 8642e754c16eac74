package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wagmii/core/internal/config"
	"github.com/wagmii/core/internal/sessions"
)

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect saved channel sessions",
	}
	cmd.AddCommand(buildSessionsListCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var configPath, agentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			application, err := buildApp(cfg, slog.Default())
			if err != nil {
				return err
			}
			list, err := application.sessionStore.List(context.Background(), agentID, sessions.ListOptions{Limit: 100})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "Agent to list sessions for")
	return cmd
}
