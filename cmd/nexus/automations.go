package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wagmii/core/internal/config"
)

func buildAutomationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "automations",
		Short: "Manage recurring automation jobs",
	}
	cmd.AddCommand(buildAutomationsListCmd(), buildAutomationsRunNowCmd())
	return cmd
}

func buildAutomationsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured automations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			application, err := buildApp(cfg, slog.Default())
			if err != nil {
				return err
			}
			if application.automations == nil {
				return fmt.Errorf("automations are disabled in config")
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(application.automations.List())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildAutomationsRunNowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run-now [id]",
		Short: "Fire an automation immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			application, err := buildApp(cfg, slog.Default())
			if err != nil {
				return err
			}
			if application.automations == nil {
				return fmt.Errorf("automations are disabled in config")
			}
			return application.automations.RunNow(context.Background(), args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
