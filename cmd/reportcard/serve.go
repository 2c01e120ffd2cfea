package main

import (
	"context"
	"log/slog"

	"github.com/jllopis/reportcard/pkg/config"
	"github.com/jllopis/reportcard/pkg/mcp"
	"github.com/jllopis/reportcard/pkg/telemetry"
)

func (a *app) runMCP(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "serve" {
		return usageError("mcp serve [--no-records] [--no-reports] [--ensure] [--watch]")
	}
	srv, cleanup, err := a.buildMCPServer(ctx, args[1:])
	if err != nil {
		return err
	}
	defer cleanup()
	return srv.ServeStdio()
}

// buildMCPServer opens the stores selected by the flags and registers their
// tools. cleanup closes whatever was opened.
func (a *app) buildMCPServer(ctx context.Context, args []string) (*mcp.Server, func(), error) {
	cmd := a.newFlagSet("mcp serve")
	noRecords := cmd.Bool("no-records", false, "Do not serve the record_* tools")
	noReports := cmd.Bool("no-reports", false, "Do not serve the report_list tool")
	ensure := cmd.Bool("ensure", false, "Create the Qdrant collection if it is missing")
	watch := cmd.Bool("watch", false, "Reload the log level when the config file changes")
	if err := cmd.Parse(args); err != nil {
		return nil, nil, err
	}
	if cmd.NArg() > 0 {
		return nil, nil, usageError("mcp serve [--no-records] [--no-reports] [--ensure] [--watch]")
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	opts := []mcp.Option{mcp.WithLogger(a.logger)}
	if !*noRecords {
		store, err := a.openRecords(ctx)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = store.Close() })
		if *ensure {
			if err := store.EnsureCollection(ctx); err != nil {
				cleanup()
				return nil, nil, err
			}
		}
		opts = append(opts, mcp.WithRecords(store))
	}
	if !*noReports {
		store, err := a.openReports()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = store.close() })
		opts = append(opts, mcp.WithReports(store.Store))
	}

	if *watch {
		if configPath(a.flags.ConfigArgs) == "" {
			a.logger.Warn("--watch needs --config, ignoring")
		} else {
			w, _, err := config.WatchConfig(ctx, a.flags.ConfigArgs, config.WithWatchLogger(a.logger))
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			w.OnChange(a.applyConfig)
			closers = append(closers, w.Stop)
		}
	}

	return mcp.NewServer(serviceName, version, opts...), cleanup, nil
}

// applyConfig takes the settings that can change without a restart.
func (a *app) applyConfig(cfg *config.Config) {
	level := telemetry.ParseLevel(cfg.Log.Level)
	if a.level.Level() != level {
		a.level.Set(level)
		a.logger.Info("log level changed", slog.String("level", level.String()))
	}
}
