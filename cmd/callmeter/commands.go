package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guillermoBallester/callmeter/internal/adapter/mcp"
	"github.com/guillermoBallester/callmeter/internal/config"
	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/guillermoBallester/callmeter/internal/report"
	"github.com/guillermoBallester/callmeter/internal/sample"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "callmeter",
		Short:         "Record and report function call metrics",
		Long:          `callmeter times wrapped function calls, stores one record per call and reports the most recent ones.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addGlobalFlags(root.PersistentFlags())

	root.AddCommand(newDemoCmd(), newReportCmd(), newQueryCmd(), newServeCmd())
	return root
}

// withApp loads the config for cmd, builds the app and runs fn with it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(overridesFrom(cmd.Flags()))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	logger.Debug("starting callmeter",
		"version", version,
		"command", cmd.Name(),
		"sink", cfg.Sink,
		"log_level", cfg.LogLevel.String(),
	)

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	runErr := fn(ctx, a)
	closeErr := a.close(context.WithoutCancel(ctx))
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("closing sink: %w", closeErr)
	}
	return nil
}

func newDemoCmd() *cobra.Command {
	var opts sample.DemoOptions

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the sample functions through the recorder and print a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if err := sample.RunDemo(ctx, a.recorder, opts, out); err != nil {
					return err
				}

				records, err := a.recorder.Recent(ctx, a.cfg.ReportLimit)
				if err != nil {
					return fmt.Errorf("reading recent calls: %w", err)
				}
				_, _ = fmt.Fprintf(out, "\n📊 Function Execution Metrics (Last %d calls):\n", a.cfg.ReportLimit)
				return report.Render(out, records, report.FormatTable)
			})
		},
	}

	cmd.Flags().IntVar(&opts.Runs, "runs", 3, "number of sample_function calls")
	cmd.Flags().DurationVar(&opts.Work, "work", time.Second, "how long each sample_function call sleeps")
	cmd.Flags().DurationVar(&opts.Pause, "pause", 500*time.Millisecond, "pause between sample_function calls")
	return cmd
}

func newReportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the most recent calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				records, err := a.recorder.Recent(ctx, a.cfg.ReportLimit)
				if err != nil {
					return fmt.Errorf("reading recent calls: %w", err)
				}
				return report.Render(cmd.OutOrStdout(), records, output)
			})
		},
	}

	cmd.Flags().IntP("limit", "n", 10, "number of calls to show (env: REPORT_LIMIT)")
	cmd.Flags().StringVarP(&output, "output", "o", report.FormatTable, "output format: table or json")
	return cmd
}

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a read-only SELECT against the metrics table",
		Long: `Run a single SELECT (or EXPLAIN) statement against the metrics table and print the rows as JSON.
Only the duckdb, sqlite and postgres sinks support queries.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.query == nil {
					return fmt.Errorf("the %s sink does not support SQL queries: %w", a.cfg.Sink, domain.ErrUnsupported)
				}
				rows, err := a.query.Execute(ctx, args[0])
				if err != nil {
					return err
				}
				if rows == nil {
					rows = []map[string]any{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			})
		},
	}

	cmd.Flags().Bool("explain-only", false, "only run EXPLAIN for queries")
	cmd.Flags().Int("max-rows", 100, "maximum rows returned (env: MAX_ROWS)")
	cmd.Flags().Duration("query-timeout", 10*time.Second, "query timeout (env: QUERY_TIMEOUT)")
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the call metrics over MCP (stdio or HTTP)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				mcpServer := mcp.NewServer(version, a.recorder, a.query, a.cfg.ReportLimit, a.logger, a.tracer, a.inst)

				if a.cfg.Transport == "http" {
					return serveHTTP(ctx, a, mcpServer)
				}

				a.logger.Info("serving MCP over stdio")
				err := mcpserver.NewStdioServer(mcpServer).Listen(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("stdio server: %w", err)
				}
				a.logger.Info("shutdown complete")
				return nil
			})
		},
	}

	cmd.Flags().String("transport", "stdio", "MCP transport: stdio or http (env: TRANSPORT)")
	cmd.Flags().String("http-addr", ":8080", "listen address for the http transport (env: HTTP_ADDR)")
	cmd.Flags().String("http-bearer-token", "", "bearer token for /mcp (env: HTTP_BEARER_TOKEN)")
	cmd.Flags().Bool("explain-only", false, "only run EXPLAIN for query_calls")
	return cmd
}
