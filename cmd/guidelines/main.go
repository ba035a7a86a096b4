package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	guidelines "github.com/jb-612/dox-asdlc-sub004"
	"github.com/jb-612/dox-asdlc-sub004/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level, err := config.ParseLogLevel(os.Getenv("GUIDELINES_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "GUIDELINES_LOG_LEVEL:", err)
		return 2
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	app, err := guidelines.New(ctx,
		guidelines.WithLogger(logger),
		guidelines.WithVersion(version),
	)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Run(ctx)
}
