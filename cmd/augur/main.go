// Augur is an agentic divination engine.
//
// It runs a turn-taking loop against a remote chat-completion service,
// normalizing and executing tool calls, assembling token-budgeted
// context from its SQLite store, and persisting every exchange.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	augur ask <question>     Run one divination and print the answer
//	augur init [dir]         Initialize a working directory with defaults
//	augur usage              Show token usage for the last 30 days
//	augur version            Print version and build information
//	augur -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/augurhq/augur/internal/buildinfo"
	"github.com/augurhq/augur/internal/config"
	"github.com/augurhq/augur/internal/contextbuild"
	"github.com/augurhq/augur/internal/divine"
	"github.com/augurhq/augur/internal/llm"
	"github.com/augurhq/augur/internal/store"
	"github.com/augurhq/augur/internal/toolcall"
	"github.com/augurhq/augur/internal/usage"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the augur command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which interfere with calling run() concurrently from tests, and the
// argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var reasoning bool
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-reasoning" || args[i] == "--reasoning":
			reasoning = true
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: augur ask <question>")
		}
		return runAsk(ctx, stdout, configPath, outputFmt, reasoning, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "usage":
		return runUsage(stdout, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runAsk handles the "augur ask <question>" subcommand: one divination
// against the configured completion service, with history and notes
// from the store. No tool dispatcher is wired, so the model answers
// from context alone.
func runAsk(ctx context.Context, stdout io.Writer, configPath, outputFmt string, reasoning bool, args []string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, level, "text")
	logger.Info("config loaded", "path", cfgPath)

	question := strings.Join(args, " ")

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	temp := func() float64 {
		snap, err := st.CurrentAegis()
		if err != nil {
			return store.DefaultTemperature
		}
		return snap.Temperature
	}

	client := llm.New(cfg.Completion, temp, logger)
	builder := contextbuild.NewBuilder(st, cfg.Context, logger)
	executor := toolcall.NewExecutor(nil, logger)
	loop := divine.New(client, executor, temp, cfg.Loop, logger)

	assembled, err := builder.Build(ctx, contextbuild.Request{Prompt: question})
	if err != nil {
		return fmt.Errorf("assemble context: %w", err)
	}

	start := time.Now()
	out := loop.Run(ctx, divine.Params{
		Prompt:       question,
		History:      assembled.History,
		ExtraContext: assembled.ExtraContext,
		Reasoning:    reasoning,
	})

	switch o := out.(type) {
	case divine.Answer:
		if err := recordExchange(st, question, o, time.Since(start)); err != nil {
			logger.Warn("record exchange failed", "error", err)
		}
		if err := recordUsage(ctx, cfg, reasoning, o.Usage); err != nil {
			logger.Warn("record usage failed", "error", err)
		}
		if outputFmt == "json" {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"answer":    o.Text,
				"artifacts": o.Artifacts,
				"prelude":   o.Prelude,
			})
		}
		fmt.Fprintln(stdout, o.Text)
		return nil
	case divine.Interrupted:
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(o.Marker)
	case divine.Failed:
		return fmt.Errorf("divination failed: %s", o.Status)
	default:
		return fmt.Errorf("unexpected outcome %T", out)
	}
}

func recordExchange(st *store.Store, question string, answer divine.Answer, elapsed time.Duration) error {
	calls := make([]store.ToolCallRecord, 0, len(answer.ToolResults))
	for _, r := range answer.ToolResults {
		calls = append(calls, store.ToolCallRecord{ID: r.ID, Name: r.Name, Arguments: r.Arguments, Result: r.Result})
	}
	_, err := st.RecordEntry(question, answer.Text, nil, calls, store.EntryOptions{Elapsed: elapsed})
	return err
}

func recordUsage(ctx context.Context, cfg *config.Config, reasoning bool, u divine.Usage) error {
	us, err := openUsageStore(cfg)
	if err != nil {
		return err
	}
	defer us.Close()

	mode := "standard"
	if reasoning {
		mode = "reasoning"
	}
	return us.Record(ctx, usage.Record{
		Model:        u.Model,
		Mode:         mode,
		Turns:        u.Turns,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	})
}

// runUsage handles the "augur usage" subcommand: token totals for the
// last 30 days, overall and per model.
func runUsage(stdout io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	us, err := openUsageStore(cfg)
	if err != nil {
		return err
	}
	defer us.Close()

	end := time.Now().Add(time.Hour)
	start := end.Add(-30 * 24 * time.Hour)

	sum, err := us.Summary(start, end)
	if err != nil {
		return err
	}
	byModel, err := us.SummaryByModel(start, end)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"total": sum, "by_model": byModel})
	}

	fmt.Fprintf(stdout, "Last 30 days: %d divinations, %d turns, %d in / %d out tokens\n",
		sum.TotalRecords, sum.TotalTurns, sum.TotalInputTokens, sum.TotalOutputTokens)
	for model, s := range byModel {
		fmt.Fprintf(stdout, "  %-20s %d in / %d out\n", model, s.TotalInputTokens, s.TotalOutputTokens)
	}
	return nil
}

func openUsageStore(cfg *config.Config) (*usage.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
}

func openStore(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	path := cfg.Store.Path
	if path == "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		path = filepath.Join(cfg.DataDir, "augur.db")
	}
	return store.Open(path, logger, cfg.Store.MaxNoteLen)
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Augur - Agentic Divination Engine")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: augur [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  ask          Run one divination and print the answer")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  usage        Show token usage for the last 30 days")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w, "  -reasoning        Use the reasoning model (no tools)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintf(w, "  %s\n", strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
