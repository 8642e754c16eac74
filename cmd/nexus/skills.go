package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wagmii/core/internal/config"
)

func buildSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect discovered skills",
	}
	cmd.AddCommand(buildSkillsListCmd())
	return cmd
}

func buildSkillsListCmd() *cobra.Command {
	var configPath string
	var eligibleOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			application, err := buildApp(cfg, slog.Default())
			if err != nil {
				return err
			}
			if application.skills == nil {
				return fmt.Errorf("skills are disabled in config")
			}
			var entries any
			if eligibleOnly {
				entries = application.skills.ListEligible()
			} else {
				entries = application.skills.ListAll()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&eligibleOnly, "eligible", false, "Only show eligible skills")
	return cmd
}
