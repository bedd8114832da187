// Parley is a Telegram relay bot for OpenAI chat completions.
//
// It long-polls the Telegram Bot API, answers known questions from a
// canned reply table, forwards everything else to the completion
// provider under a per-user persona prompt, and records each exchange
// in SQLite. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	parley serve             Start the bot
//	parley ask <question>    Ask a single question from the terminal
//	parley init [dir]        Initialize a working directory with defaults
//	parley qr                Print a QR code linking to the bot
//	parley version           Print version and build information
//	parley -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/parleyhq/parley/internal/buildinfo"
	"github.com/parleyhq/parley/internal/canned"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/respond"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/telegram"
	"github.com/parleyhq/parley/internal/tokens"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run], keeping os.Exit and os.Args out of
// the application logic so the lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the parley command. Arguments are
// parsed by hand: the flag package relies on package-level globals
// (flag.CommandLine), which makes it impossible to call run()
// concurrently from tests, and our argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
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
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: parley ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "qr":
		return runQR(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runServe is the primary operating mode: load config, open the
// database, verify the provider, and poll Telegram until a shutdown
// signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Parley",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Reconfigure at the desired level now that config is loaded.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		logger = newLogger(stdout, level)
	}
	slog.SetDefault(logger)

	if cfg.OpenAI.DefaultModel != "" && !respond.IsSupportedModel(cfg.OpenAI.DefaultModel) {
		logger.Warn("default model is not in the known model list",
			"model", cfg.OpenAI.DefaultModel,
			"known", respond.SupportedModels(),
		)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("database ready", "path", cfg.DatabasePath)

	provider := llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, logger)
	if err := provider.Ping(ctx); err != nil {
		return fmt.Errorf("provider check failed: %w", err)
	}

	bot := telegram.NewBot(
		telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.BaseURL, logger),
		newResponder(cfg, provider, logger),
		st,
		newCannedTable(cfg),
		telegram.BotConfig{
			ProjectName:     cfg.ProjectName,
			PollTimeoutSec:  cfg.Telegram.PollTimeoutSec,
			MaxConcurrency:  cfg.Telegram.MaxConcurrency,
			HistoryLookback: cfg.Limits.HistoryLookback,
			PersonaRole:     cfg.Persona.DefaultRoleName,
			PersonaPrompt:   cfg.Persona.DefaultRolePrompt,
		},
		logger,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = bot.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutdown complete", "uptime", buildinfo.Uptime().Round(time.Second).String())
		return nil
	}
	return err
}

// runAsk answers a single question from the terminal using the
// configured persona, without touching Telegram or the database.
// Useful for smoke tests and prompt tuning.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required for ask")
	}

	question := strings.Join(args, " ")

	// Canned replies apply on the CLI path too.
	if reply, ok := newCannedTable(cfg).Match(question); ok {
		fmt.Fprintln(stdout, reply)
		return nil
	}

	provider := llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, logger)
	result, err := newResponder(cfg, provider, logger).Generate(ctx, question, cfg.Persona.DefaultRolePrompt, "")
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, result.Text)
	fmt.Fprintf(stdout, "\n(model %s, %d tokens)\n", result.Model, result.TokensUsed)
	return nil
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
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Parley - Telegram relay bot for AI chat completions")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: parley [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the bot")
	fmt.Fprintln(w, "  ask          Ask a single question from the terminal")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  qr           Print a QR code linking to the bot")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./parley.yaml, ~/.config/parley/parley.yaml, /etc/parley/parley.yaml")
	return nil
}

func newResponder(cfg *config.Config, provider llm.Provider, logger *slog.Logger) *respond.Responder {
	return respond.NewResponder(
		provider,
		tokens.NewCounter(logger),
		respond.DefaultBudget(cfg.Limits.MaxTokensPerRequest),
		cfg.OpenAI.DefaultModel,
		logger,
	)
}

func newCannedTable(cfg *config.Config) *canned.Table {
	extra := make([]canned.Entry, 0, len(cfg.Canned))
	for _, c := range cfg.Canned {
		extra = append(extra, canned.Entry{Name: c.Name, Keywords: c.Keywords, Reply: c.Reply})
	}
	return canned.NewTable(extra)
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

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
