package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rendis/stepflow/internal/diagram"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/store"
)

type rootOptions struct {
	configFile string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	root := &cobra.Command{
		Use:   "stepflow",
		Short: "Stepflow - workflow automation engine",
		Long: `Stepflow runs workflow automations: trees of steps that call built-in
actions or an external action provider, started by hand or by schedules.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "settings file (default ~/.stepflow/settings.yaml)")
	root.PersistentFlags().String("db-path", "", "libSQL database URI, or \"memory\"")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = opts.v.BindPFlag("db_path", root.PersistentFlags().Lookup("db-path"))
	_ = opts.v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newMigrateCmd(opts),
		newScheduleCmd(opts),
		newTreeCmd(opts),
	)
	return root
}

// boot loads the configuration and wires the components. Logs go to stderr
// so stdout stays free for MCP and command output.
func (o *rootOptions) boot(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(o.v, o.configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApp(ctx, cfg, os.Stderr)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdio and sweep due schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := opts.boot(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.scheduler.Start(ctx); err != nil {
				return err
			}
			defer func() {
				if err := a.scheduler.Stop(); err != nil {
					a.logger.Error("scheduler stop failed", "error", err)
				}
			}()

			a.logger.Info("stepflow serving", "transport", "stdio")
			return a.mcpServer().Serve(ctx)
		},
	}
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "run <workflowId>",
		Short: "Execute a workflow once and print the run result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data map[string]any
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &data); err != nil {
					return fmt.Errorf("payload must be a JSON object: %w", err)
				}
			}

			a, err := opts.boot(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			result, runErr := a.engine.ExecuteWorkflow(cmd.Context(), args[0], data)
			if result != nil {
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "trigger payload as a JSON object")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.v, opts.configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st, closeStore, err := openStore(cmd.Context(), cfg, logging.New(os.Stderr, cfg.LogLevel))
			if err != nil {
				return err
			}
			defer closeStore()
			lib, ok := st.(*store.LibSQLStore)
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "in-memory store: nothing to migrate")
				return nil
			}
			records, err := lib.AppliedMigrations(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "%03d_%s\t%s\t%s\n", r.Version, r.Name, r.Checksum[:12], r.AppliedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and fire schedules",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Fire every due schedule once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.boot(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.scheduler.RunDueSchedules(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	})
	return cmd
}

func newTreeCmd(opts *rootOptions) *cobra.Command {
	var format, runID string
	cmd := &cobra.Command{
		Use:   "tree <workflowId>",
		Short: "Draw the step tree of a workflow's current configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "ascii" && format != "mermaid" {
				return fmt.Errorf("format must be ascii or mermaid, got %q", format)
			}
			a, err := opts.boot(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			model, err := diagram.Load(cmd.Context(), a.store, args[0], runID)
			if err != nil {
				return err
			}
			if format == "mermaid" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), diagram.RenderMermaid(model))
			} else {
				_, err = fmt.Fprint(cmd.OutOrStdout(), diagram.RenderASCII(model))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "ascii", "output format: ascii or mermaid")
	cmd.Flags().StringVar(&runID, "run", "", "overlay the step statuses of this run")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
