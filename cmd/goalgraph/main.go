package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/aimi/goalgraph/internal/config"
	"github.com/aimi/goalgraph/internal/db"
	"github.com/aimi/goalgraph/internal/logging"
	"github.com/aimi/goalgraph/internal/mcp"
	"github.com/aimi/goalgraph/internal/ops"
	"github.com/aimi/goalgraph/internal/similarity"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"create": true, "get": true, "list": true, "update": true, "available": true,
	"depend": true, "undepend": true, "status": true,
	"prereqs": true, "impact": true, "critical-path": true,
	"similar": true, "merge": true, "stats": true,
	"reindex": true, "export": true, "import": true,
	"worker": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	return isCLIArg(os.Args[1])
}

// isCLIArg reports whether the first argument selects the CLI.
func isCLIArg(arg string) bool {
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a short banner when run interactively without args.
func printBanner() {
	fmt.Println(`
  goalgraph: goal dependency graph engine

  Usage: goalgraph <command> [options]
         goalgraph --help

  MCP server mode requires piped input.`)
}

// newEngine wires the engine from config. Similarity is enabled only when an
// OpenAI API key is configured; everything else works without it.
func newEngine(database *sql.DB, cfg *config.Config, logger *zap.Logger) (*ops.Engine, error) {
	db.ConfigurePool(database, cfg)
	opts := ops.Options{Config: cfg, Logger: logger}

	if cfg.OpenAIAPIKey == "" {
		logger.Info("no OpenAI API key configured, similarity disabled")
		return ops.New(database, opts), nil
	}

	client, err := similarity.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	if err != nil {
		return nil, err
	}
	guard := similarity.Options{
		Timeout:     cfg.ProviderTimeout(),
		Rate:        cfg.ProviderRate,
		Burst:       cfg.ProviderBurst,
		MaxFailures: uint32(max(cfg.BreakerFailures, 0)),
		Retries:     uint(max(cfg.ProviderRetries, 0)),
		Logger:      logger,
	}
	opts.Embedder = similarity.NewResilientEmbedder(similarity.NewOpenAIEmbedder(client, cfg.EmbeddingModel), guard)
	opts.Summarizer = similarity.NewResilientSummarizer(similarity.NewOpenAISummarizer(client, cfg.SummaryModel), guard)
	return ops.New(database, opts), nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, zap.NewNop())
		if err := app.Run(os.Args); err != nil {
			fail("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fail("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".goalgraph")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fail("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, os.Getenv("GOALGRAPH_DEV") != "")
	if err != nil {
		fail("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		logger.Warn("unknown types in disabled_types", zap.Strings("types", unknown))
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fail("failed to initialize database: %v", err)
	}
	defer database.Close()

	engine, err := newEngine(database, cfg, logger)
	if err != nil {
		fail("failed to configure providers: %v", err)
	}
	defer engine.Close()

	if isCLIMode() {
		app := newCLIApp(engine, cfg, logger)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			engine.Close()
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'goalgraph --help' for usage.\n")
		os.Exit(1)
	}

	if err := mcp.Run(engine, cfg, logger, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
