package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/vault-md/walrusdb/internal/application"
	"github.com/vault-md/walrusdb/internal/config"
	"github.com/vault-md/walrusdb/internal/logging"
	"github.com/vault-md/walrusdb/internal/tracing"
)

// runtime carries the global flags and the application built from them.
type runtime struct {
	configPath string
	logLevel   string
	traceFile  string
	format     string

	// opts are passed to application.New; tests use them to inject a client.
	opts []application.Option

	app    *application.App
	tracer *sdktrace.TracerProvider
}

func newRootCmd(opts ...application.Option) *cobra.Command {
	rt := &runtime{opts: opts}

	cmd := &cobra.Command{
		Use:           "walrusdb",
		Short:         "walrusdb - content-addressed blobs, versioned documents and tables",
		Long:          "walrusdb stores blobs on a remote content-addressed store, tracks document versions, and keeps schema-defined tables synced as immutable chunks.",
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&rt.configPath, "config", "", "Config file (default $WALRUSDB_DIR/config.yaml)")
	cmd.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "Log level: debug, info, warn, or error")
	cmd.PersistentFlags().StringVar(&rt.traceFile, "trace-file", "", "Write OpenTelemetry spans to this file")
	cmd.PersistentFlags().StringVar(&rt.format, "format", "table", "Output format: table or json")

	cmd.AddCommand(newStoreCmd(rt))
	cmd.AddCommand(newFileCmd(rt))
	cmd.AddCommand(newGetCmd(rt))
	cmd.AddCommand(newListCmd(rt))
	cmd.AddCommand(newSearchCmd(rt))
	cmd.AddCommand(newDeleteCmd(rt))
	cmd.AddCommand(newBalanceCmd(rt))
	cmd.AddCommand(newExportCmd(rt))
	cmd.AddCommand(newCleanupCmd(rt))
	cmd.AddCommand(newVersionCmd(rt))
	cmd.AddCommand(newHistoryCmd(rt))
	cmd.AddCommand(newRollbackCmd(rt))
	cmd.AddCommand(newDocsCmd(rt))
	cmd.AddCommand(newDBCmd(rt))
	cmd.AddCommand(newMCPCmd(rt))

	return cmd
}

// run wraps a command body with application setup and teardown, so --help
// and argument errors never touch local state.
func (rt *runtime) run(fn func(cmd *cobra.Command, app *application.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		app, err := rt.setup(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := rt.teardown(cmd.Context()); err == nil {
				err = cerr
			}
		}()
		return fn(cmd, app, args)
	}
}

func (rt *runtime) setup(cmd *cobra.Command) (*application.App, error) {
	if err := validateFormat(rt.format); err != nil {
		return nil, err
	}

	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return nil, err
	}

	levelName := cfg.Log.Level
	if rt.logLevel != "" {
		levelName = rt.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	logger := logging.New(level)
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if rt.traceFile != "" {
		tp, err := tracing.NewFileProvider(rt.traceFile, "walrusdb", version)
		if err != nil {
			return nil, fmt.Errorf("failed to start tracing: %w", err)
		}
		rt.tracer = tp
		ctx = tracing.SetTracer(ctx, tp.Tracer("walrusdb"))
		cmd.SetContext(ctx)
	}

	app, err := application.New(ctx, cfg, logger, rt.opts...)
	if err != nil {
		return nil, err
	}
	rt.app = app
	return app, nil
}

func (rt *runtime) teardown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	if rt.app != nil {
		errs = append(errs, rt.app.Close())
		rt.app = nil
	}
	if rt.tracer != nil {
		errs = append(errs, rt.tracer.Shutdown(ctx))
		rt.tracer = nil
	}
	return errors.Join(errs...)
}

func validateFormat(format string) error {
	switch format {
	case "table", "json":
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid values: table, json)", format)
	}
}
