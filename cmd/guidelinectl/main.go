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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jb-612/dox-asdlc-sub004/internal/config"
	"github.com/jb-612/dox-asdlc-sub004/internal/evaluator"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
)

// version is set at build time via -ldflags.
var version = "dev"

// globals holds the persistent flags shared by every command.
type globals struct {
	logLevel    string
	databaseURL string
	staticFile  string
}

func main() {
	// Load .env file if present (non-fatal).
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:     "guidelinectl",
		Short:   "Query and manage agent guidelines",
		Version: version,
		Long: `guidelinectl talks to the guideline repository directly, using the same
environment configuration as the server (DATABASE_URL, GUIDELINES_STATIC_FILE,
GUIDELINES_INDEX_PREFIX, ...). When the store is unreachable it falls back to
the static file in read-only mode.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level (debug, info, warn, error); logs go to stderr")
	root.PersistentFlags().StringVar(&g.databaseURL, "database-url", "", "override DATABASE_URL")
	root.PersistentFlags().StringVar(&g.staticFile, "static-file", "", "override GUIDELINES_STATIC_FILE")

	root.AddCommand(contextCmd(g))
	root.AddCommand(decideCmd(g))
	root.AddCommand(seedCmd(g))
	root.AddCommand(tokenCmd(g))
	root.AddCommand(keygenCmd())
	root.AddCommand(getCmd(g))
	root.AddCommand(listCmd(g))
	return root
}

// logger writes text logs to stderr so stdout stays machine-readable.
func (g *globals) logger() *slog.Logger {
	level, err := config.ParseLogLevel(g.logLevel)
	if err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (g *globals) config() (config.Config, error) {
	// Flags override the environment before validation so a missing
	// DATABASE_URL can be supplied on the command line.
	if g.databaseURL != "" {
		if err := os.Setenv("DATABASE_URL", g.databaseURL); err != nil {
			return config.Config{}, err
		}
	}
	if g.staticFile != "" {
		if err := os.Setenv("GUIDELINES_STATIC_FILE", g.staticFile); err != nil {
			return config.Config{}, err
		}
	}
	return config.Load()
}

// withRepo opens the configured repository, runs fn and closes it.
func (g *globals) withRepo(ctx context.Context, fn func(ctx context.Context, cfg config.Config, repo storage.Repository, logger *slog.Logger) error) error {
	logger := g.logger()
	cfg, err := g.config()
	if err != nil {
		return err
	}
	repo, err := storage.Open(ctx, storage.OpenConfig{
		DatabaseURL: cfg.DatabaseURL,
		IndexPrefix: cfg.IndexPrefix,
		PrimaryTerm: cfg.PrimaryTerm,
		StaticFile:  cfg.StaticFile,
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()
	return fn(ctx, cfg, repo, logger)
}

func newEvaluator(cfg config.Config, repo storage.Repository, logger *slog.Logger) *evaluator.Evaluator {
	return evaluator.New(repo, evaluator.Config{
		CacheTTL: cfg.CacheTTL,
		PageSize: cfg.FetchPageSize,
	}, logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// splitList parses a comma-separated flag value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var errUsage = errors.New("invalid usage")
