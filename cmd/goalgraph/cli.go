package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/aimi/goalgraph/internal/config"
	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
	"github.com/aimi/goalgraph/internal/mcp"
	"github.com/aimi/goalgraph/internal/metrics"
	"github.com/aimi/goalgraph/internal/ops"
)

// stdout is where command results are written; tests swap it.
var stdout io.Writer = os.Stdout

// newCLIApp creates the CLI application with all commands.
func newCLIApp(engine *ops.Engine, cfg *config.Config, logger *zap.Logger) *cli.App {
	app := &cli.App{
		Name:    "goalgraph",
		Usage:   "Goal dependency graph engine",
		Version: Version,
		Commands: []*cli.Command{
			createCmd(engine),
			getCmd(engine),
			listCmd(engine),
			updateCmd(engine),
			availableCmd(engine),
			dependCmd(engine),
			undependCmd(engine),
			statusCmd(engine),
			prereqsCmd(engine),
			impactCmd(engine),
			criticalPathCmd(engine),
			similarCmd(engine),
			mergeCmd(engine),
			statsCmd(engine),
			reindexCmd(engine),
			exportCmd(engine),
			importCmd(engine),
			workerCmd(engine, cfg, logger),
			serveCmd(engine, cfg, logger),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func userFlag() cli.Flag {
	return &cli.StringFlag{Name: "user", Aliases: []string{"u"}, EnvVars: []string{"GOALGRAPH_USER_ID"}, Required: true, Usage: "Owner of the graph (UUID)"}
}

// args returns exactly n positional arguments or an INVALID_REQUEST exit.
func args(c *cli.Context, names ...string) ([]string, error) {
	if c.NArg() != len(names) {
		return nil, outputError(errors.NewInvalidRequest(fmt.Sprintf("usage: %s %s", c.Command.Name, strings.Join(names, " "))))
	}
	return c.Args().Slice(), nil
}

// createCmd creates the create command.
func createCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a goal",
		ArgsUsage: "<title>",
		Flags: []cli.Flag{
			userFlag(),
			&cli.StringFlag{Name: "chat", EnvVars: []string{"GOALGRAPH_CHAT_ID"}, Required: true, Usage: "Conversation ID (UUID)"},
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Description (reads stdin when piped and not set)"},
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: "career|health|learning|finance|personal|social|creative"},
			&cli.IntFlag{Name: "priority", Aliases: []string{"p"}, Usage: "1 (low) to 5 (high)"},
			&cli.StringFlag{Name: "deadline", Usage: "YYYY-MM-DD"},
			&cli.StringFlag{Name: "duration", Usage: "Estimated duration, e.g. 14d"},
			&cli.IntFlag{Name: "difficulty", Usage: "0 to 10"},
			&cli.StringFlag{Name: "motivation"},
			&cli.StringFlag{Name: "success", Usage: "Success criteria"},
		},
		Action: func(c *cli.Context) error {
			a, err := args(c, "<title>")
			if err != nil {
				return err
			}
			input := ops.CreateGoalInput{
				UserID:          c.String("user"),
				ChatID:          c.String("chat"),
				Title:           a[0],
				Category:        c.String("category"),
				Priority:        c.Int("priority"),
				Deadline:        c.String("deadline"),
				DifficultyLevel: c.Int("difficulty"),
				Motivation:      optionalString(c, "motivation"),
				SuccessCriteria: optionalString(c, "success"),
				Description:     optionalString(c, "description"),
			}
			if input.Description == nil && stdinHasData() {
				text, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				if text != "" {
					input.Description = &text
				}
			}
			if c.IsSet("duration") {
				days, err := parseDuration(c.String("duration"))
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				input.EstimatedDurationDays = &days
			}

			output, err := engine.CreateGoal(c.Context, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// getCmd creates the get command.
func getCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a goal and its edges",
		ArgsUsage: "<goal-id>",
		Action: func(c *cli.Context) error {
			a, err := args(c, "<goal-id>")
			if err != nil {
				return err
			}
			output, err := engine.GetGoal(c.Context, a[0])
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// listCmd creates the list command.
func listCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List goals, most recently updated first",
		Flags: []cli.Flag{
			userFlag(),
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Comma-separated statuses"},
			&cli.BoolFlag{Name: "archived", Usage: "Include merged duplicates"},
			&cli.BoolFlag{Name: "deps", Usage: "Include each goal's edges"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max results"},
			&cli.IntFlag{Name: "offset", Usage: "Pagination offset"},
		},
		Action: func(c *cli.Context) error {
			output, err := engine.ListGoals(c.Context, ops.ListGoalsInput{
				UserID:              c.String("user"),
				Statuses:            splitList(c.String("status")),
				IncludeArchived:     c.Bool("archived"),
				IncludeDependencies: c.Bool("deps"),
				Limit:               c.Int("limit"),
				Offset:              c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// updateCmd creates the update command.
func updateCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Edit a goal's fields; an empty value clears an optional field",
		ArgsUsage: "<goal-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}},
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}},
			&cli.IntFlag{Name: "priority", Aliases: []string{"p"}},
			&cli.StringFlag{Name: "deadline"},
			&cli.StringFlag{Name: "duration", Usage: "Estimated duration, e.g. 14d"},
			&cli.IntFlag{Name: "difficulty"},
			&cli.StringFlag{Name: "motivation"},
			&cli.StringFlag{Name: "success", Usage: "Success criteria"},
		},
		Action: func(c *cli.Context) error {
			a, err := args(c, "<goal-id>")
			if err != nil {
				return err
			}
			input := ops.UpdateGoalInput{
				GoalID:          a[0],
				Title:           optionalString(c, "title"),
				Description:     optionalString(c, "description"),
				Category:        optionalString(c, "category"),
				Deadline:        optionalString(c, "deadline"),
				Motivation:      optionalString(c, "motivation"),
				SuccessCriteria: optionalString(c, "success"),
				Priority:        optionalInt(c, "priority"),
				DifficultyLevel: optionalInt(c, "difficulty"),
			}
			if c.IsSet("duration") {
				days, err := parseDuration(c.String("duration"))
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				input.EstimatedDurationDays = &days
			}
			output, err := engine.UpdateGoal(c.Context, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// availableCmd creates the available command.
func availableCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:  "available",
		Usage: "List goals that can be worked on now",
		Flags: []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			output, err := engine.AvailableGoals(c.Context, c.String("user"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"goals": output})
		},
	}
}

// dependCmd creates the depend command.
func dependCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:      "depend",
		Usage:     "Add a dependency: <dependent> waits for <parent>",
		ArgsUsage: "<parent-id> <dependent-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Value: string(goal.DependencyRequires), Usage: "requires|enables|related"},
			&cli.IntFlag{Name: "strength", Usage: "1 to 5"},
			&cli.StringFlag{Name: "notes"},
		},
		Action: func(c *cli.Context) error {
			a, err := args(c, "<parent-id>", "<dependent-id>")
			if err != nil {
				return err
			}
			output, err := engine.AddDependency(c.Context, ops.AddDependencyInput{
				ParentID:    a[0],
				DependentID: a[1],
				Type:        c.String("type"),
				Strength:    c.Int("strength"),
				Notes:       optionalString(c, "notes"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// undependCmd creates the undepend command.
func undependCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:      "undepend",
		Usage:     "Remove a dependency",
		ArgsUsage: "<parent-id> <dependent-id>",
		Action: func(c *cli.Context) error {
			a, err := args(c, "<parent-id>", "<dependent-id>")
			if err != nil {
				return err
			}
			output, err := engine.RemoveDependency(c.Context, a[0], a[1])
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Set a goal's status (done and canceled cascade)",
		ArgsUsage: "<goal-id> <todo|blocked|done|canceled>",
		Action: func(c *cli.Context) error {
			a, err := args(c, "<goal-id>", "<status>")
			if err != nil {
				return err
			}
			output, err := engine.SetStatus(c.Context, a[0], goal.Status(strings.ToLower(a[1])))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// prereqsCmd creates the prereqs command.
func prereqsCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:      "prereqs",
		Usage:     "List everything a goal transitively requires, nearest first",
		ArgsUsage: "<goal-id>",
		Action: func(c *cli.Context) error {
			a, err := args(c, "<goal-id>")
			if err != nil {
				return err
			}
			output, err := engine.ResolvePrerequisites(c.Context, a[0])
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"goal_id": a[0], "prerequisites": output})
		},
	}
}

// impactCmd creates the impact command.
func impactCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:      "impact",
		Usage:     "List everything that transitively waits for a goal",
		ArgsUsage: "<goal-id>",
		Action: func(c *cli.Context) error {
			a, err := args(c, "<goal-id>")
			if err != nil {
				return err
			}
			output, err := engine.ResolveImpact(c.Context, a[0])
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"goal_id": a[0], "impacted": output})
		},
	}
}

// criticalPathCmd creates the critical-path command.
func criticalPathCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:  "critical-path",
		Usage: "Show the longest chain of open goals by estimated duration",
		Flags: []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			output, err := engine.CriticalPath(c.Context, c.String("user"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// similarCmd creates the similar command.
func similarCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:      "similar",
		Usage:     "Find similar goals to a goal, or to --text for a user",
		ArgsUsage: "[goal-id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, EnvVars: []string{"GOALGRAPH_USER_ID"}, Usage: "Owner of the graph, with --text"},
			&cli.StringFlag{Name: "text", Usage: "Free text to compare against"},
			&cli.IntFlag{Name: "top-k", Aliases: []string{"k"}, Usage: "Max matches"},
			&cli.Float64Flag{Name: "threshold", Usage: "Minimum cosine score"},
		},
		Action: func(c *cli.Context) error {
			var threshold *float64
			if c.IsSet("threshold") {
				v := c.Float64("threshold")
				threshold = &v
			}

			var (
				matches []ops.SimilarGoal
				err     error
			)
			switch {
			case c.IsSet("text"):
				matches, err = engine.FindSimilarText(c.Context, ops.SimilarTextInput{
					UserID:    c.String("user"),
					Text:      c.String("text"),
					TopK:      c.Int("top-k"),
					Threshold: threshold,
				})
			case c.NArg() == 1:
				matches, err = engine.FindSimilar(c.Context, ops.SimilarInput{
					GoalID:    c.Args().First(),
					TopK:      c.Int("top-k"),
					Threshold: threshold,
				})
			default:
				return outputError(errors.NewInvalidRequest("give a goal ID or --text"))
			}
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"matches": matches})
		},
	}
}

// mergeCmd creates the merge command.
func mergeCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:      "merge",
		Usage:     "Merge a duplicate goal into a primary",
		ArgsUsage: "<primary-id> <duplicate-id>",
		Action: func(c *cli.Context) error {
			a, err := args(c, "<primary-id>", "<duplicate-id>")
			if err != nil {
				return err
			}
			output, err := engine.Merge(c.Context, ops.MergeInput{PrimaryID: a[0], DuplicateID: a[1]})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Count goals by status and category",
		Flags: []cli.Flag{userFlag()},
		Action: func(c *cli.Context) error {
			output, err := engine.Stats(c.Context, c.String("user"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// reindexCmd creates the reindex command.
func reindexCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "Refresh missing or stale embeddings once",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Only this user (default: all users)"},
		},
		Action: func(c *cli.Context) error {
			output, err := engine.ReindexStale(c.Context, c.String("user"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write a user's graph to a JSONL file",
		Flags: []cli.Flag{
			userFlag(),
			&cli.StringFlag{Name: "path", Usage: "Output .jsonl path (default: ~/.goalgraph/exports/<user>-<timestamp>.jsonl)"},
			&cli.BoolFlag{Name: "archived", Usage: "Include merged duplicates"},
		},
		Action: func(c *cli.Context) error {
			output, err := engine.ExportGraph(c.Context, ops.ExportInput{
				UserID:          c.String("user"),
				Path:            c.String("path"),
				IncludeArchived: c.Bool("archived"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// importCmd creates the import command.
func importCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Load an export file under fresh goal ids",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Owner of the imported goals (default: the exported user)"},
		},
		Action: func(c *cli.Context) error {
			a, err := args(c, "<path>")
			if err != nil {
				return err
			}
			output, err := engine.ImportGraph(c.Context, ops.ImportInput{Path: a[0], UserID: c.String("user")})
			if err != nil {
				return outputError(err)
			}
			if len(output.Errors) > 0 {
				if err := outputJSON(output); err != nil {
					return err
				}
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("%d invalid records; nothing imported", len(output.Errors))))
			}
			return outputJSON(output)
		},
	}
}

// workerCmd creates the worker command: a periodic reindex sweep plus a
// prometheus endpoint, until interrupted.
func workerCmd(engine *ops.Engine, cfg *config.Config, logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run the periodic reindex sweep and serve metrics",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "interval", Usage: "Sweep interval (default: reindex_interval_minutes)"},
			&cli.StringFlag{Name: "metrics-addr", Value: ":9464", Usage: "Prometheus listen address; empty disables"},
		},
		Action: func(c *cli.Context) error {
			interval := c.Duration("interval")
			if interval <= 0 {
				interval = cfg.ReindexInterval()
			}
			if interval <= 0 {
				return outputError(errors.NewInvalidRequest("interval must be positive"))
			}
			if !engine.SimilarityEnabled() {
				return outputError(errors.NewInvalidRequest("worker needs an embedding provider; set OPENAI_API_KEY"))
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if addr := c.String("metrics-addr"); addr != "" {
				srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					logger.Info("serving metrics", zap.String("addr", addr))
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("metrics server failed", zap.Error(err))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			return runWorker(ctx, engine, interval, logger)
		},
	}
}

// runWorker sweeps once immediately and then every interval until ctx ends.
// A failed sweep is logged and retried on the next tick.
func runWorker(ctx context.Context, engine *ops.Engine, interval time.Duration, logger *zap.Logger) error {
	logger.Info("reindex worker started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := engine.ReindexStale(ctx, ""); err != nil && ctx.Err() == nil {
			logger.Warn("reindex sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			logger.Info("reindex worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// serveCmd creates the serve command.
func serveCmd(engine *ops.Engine, cfg *config.Config, logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the MCP tools over stdio (default when stdin is piped)",
		Action: func(c *cli.Context) error {
			return mcp.Run(engine, cfg, logger, Version)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if gerr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", gerr.Code, gerr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// optionalString returns the flag value only when it was given.
func optionalString(c *cli.Context, name string) *string {
	if !c.IsSet(name) {
		return nil
	}
	v := c.String(name)
	return &v
}

func optionalInt(c *cli.Context, name string) *int {
	if !c.IsSet(name) {
		return nil
	}
	v := c.Int(name)
	return &v
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// splitList splits a comma-separated string, dropping blanks.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}
