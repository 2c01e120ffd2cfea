package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/reportcard/pkg/config"
	"github.com/jllopis/reportcard/pkg/telemetry"
)

const serviceName = "reportcard"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

// app carries what every command needs. The open* hooks are replaced in tests.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	out    io.Writer
	errOut io.Writer
	logger *slog.Logger
	level  *slog.LevelVar

	openRecords func(ctx context.Context) (recordStore, error)
	openReports func() (reportStore, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	global, args, err := parseGlobalFlags(argv)
	if err != nil {
		printError(stderr, NewInvalidArgumentError("flags", err.Error()), global.JSON)
		return 2
	}
	if global.Help || len(args) == 0 {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "help":
		printUsage(stdout)
		return 0
	case "version":
		fmt.Fprintln(stdout, version)
		return 0
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		printError(stderr, NewConfigError(err, configPath(global.ConfigArgs)), global.JSON)
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(telemetry.ParseLevel(cfg.Log.Level))
	logger := telemetry.ConfigureSlog(stderr, level, cfg.Log.Format)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitWithConfig(serviceName, version, telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		})
		if err != nil {
			printError(stderr, NewConfigError(err, configPath(global.ConfigArgs)), global.JSON)
			return 1
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	a := newApp(global, cfg, stdout, stderr, logger, level)
	if err := a.dispatch(ctx, args); err != nil {
		printError(stderr, err, global.JSON)
		return 1
	}
	return 0
}

func newApp(flags globalFlags, cfg *config.Config, stdout, stderr io.Writer, logger *slog.Logger, level *slog.LevelVar) *app {
	a := &app{
		flags:  flags,
		cfg:    cfg,
		out:    stdout,
		errOut: stderr,
		logger: logger,
		level:  level,
	}
	a.openRecords = a.dialRecords
	a.openReports = a.loadReports
	return a
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	switch args[0] {
	case "records":
		return a.runRecords(ctx, args[1:])
	case "reports":
		return a.runReports(args[1:])
	case "mcp":
		return a.runMCP(ctx, args[1:])
	default:
		return NewInvalidArgumentError(args[0], fmt.Sprintf("unknown command %q", args[0]))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{Timeout: 30 * time.Second}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config" || arg == "--profile" || arg == "--set":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config="), strings.HasPrefix(arg, "--profile="), strings.HasPrefix(arg, "--set="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		case strings.HasPrefix(arg, "--timeout="):
			value, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout="))
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func configPath(args []string) string {
	cli, err := config.ParseCLIArgs(args)
	if err != nil {
		return ""
	}
	return cli.Path
}

// print writes value as YAML, or as indented JSON with --json. Values go
// through JSON first so that json tags and custom marshalers apply to both.
func (a *app) print(value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	if a.flags.JSON {
		_, err = fmt.Fprintln(a.out, string(payload))
		return err
	}
	var generic any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func (a *app) newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `reportcard manages school report cards and the records behind them.

Usage:
  reportcard [global flags] <command> [args]

Global flags:
  --config <path>      Path to config.yaml
  --profile <name>     Overlay config.<name>.yaml
  --set key=value      Override config (repeatable)
  --timeout <dur>      Record store request timeout (default 30s)
  --json               JSON output (default YAML)

Commands:
  records get [--fields a,b] [--vector] <id>
  records exists <id>
  records field <id> <name>
  records create [--text <text>] [--id <id>] <payload>
  records update <id> <payload>
  records edit <id> <payload>
  records set <id> <payload>
  records delete <id>
  records search [--limit N] [--order-by key] [--desc] [--fields a,b] [key=value | key:=json ...]
  records first [key=value | key:=json ...]
  records similar [--limit N] [--fields a,b] <text> [key=value ...]
  records tag <tag>
  records username <id>
  records ensure
  reports list
  reports show <id>
  reports add
  reports remove <id>
  reports reset
  reports import <file>
  reports export
  reports grade <score>
  mcp serve [--no-records] [--no-reports] [--ensure] [--watch]
  version

A payload is a JSON object or @path to a file holding one.`)
}
