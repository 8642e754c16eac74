package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wagmii/core/internal/config"
	"github.com/wagmii/core/internal/runtimelog"
	"github.com/wagmii/core/internal/tools"
)

// buildRunCmd runs a single prompt to completion against a fresh thread and
// prints the resulting transcript, for scripting and smoke-testing without
// standing up the HTTP/SSE API.
func buildRunCmd() *cobra.Command {
	var configPath, workspace string
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one prompt to completion and print the transcript",
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

			ctx := cmd.Context()
			thread, err := application.engine.CreateThread(ctx, runtimelog.CreateThreadRequest{
				Workspace: workspace,
			})
			if err != nil {
				return fmt.Errorf("creating thread: %w", err)
			}

			sub, err := application.logs.Subscribe(thread.ID)
			if err != nil {
				return err
			}
			defer sub.Close()

			turn, err := application.engine.SendMessage(ctx, thread.ID, args[0])
			if err != nil {
				return fmt.Errorf("sending message: %w", err)
			}

			out := cmd.OutOrStdout()
			for ev := range sub.Events {
				if ev.TurnID != turn.ID {
					continue
				}
				switch ev.EventType {
				case runtimelog.EventMessageDelta:
					if text, ok := ev.Payload["text"].(string); ok {
						fmt.Fprint(out, text)
					}
				case runtimelog.EventToolCallStarted:
					name, _ := ev.Payload["tool_name"].(string)
					display := tools.ResolveToolDisplay(name, ev.Payload["input"], "")
					fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", tools.FormatToolSummary(display))
				case runtimelog.EventTurnCompleted:
					fmt.Fprintln(out)
					return nil
				case runtimelog.EventError:
					fmt.Fprintln(out)
					return fmt.Errorf("turn failed: %v", ev.Payload["error"])
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "Working directory for the thread")
	return cmd
}
