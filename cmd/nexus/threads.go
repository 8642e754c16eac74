package main

import (
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wagmii/core/internal/config"
)

func buildThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect conversation threads in the runtime event log",
	}
	cmd.AddCommand(buildThreadsListCmd())
	return cmd
}

func buildThreadsListCmd() *cobra.Command {
	var configPath string
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			application, err := buildApp(cfg, slog.Default())
			if err != nil {
				return err
			}
			threads := application.logs.ListThreads(includeArchived)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(threads)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "Include archived threads")
	return cmd
}
