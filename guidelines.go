// Package guidelines is the public API for embedding the guideline
// governance server.
//
//	app, err := guidelines.New(ctx,
//	    guidelines.WithVersion(version),
//	    guidelines.WithLogger(logger),
//	)
//	if err != nil { ... }
//	defer app.Close()
//	if err := app.Run(ctx); err != nil { ... }
//
// New picks the repository: the document store when it answers a ping,
// otherwise the read-only static file when one is configured. The import
// graph is one-way: this package imports internal/*, never the reverse.
package guidelines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/jb-612/dox-asdlc-sub004/internal/auth"
	"github.com/jb-612/dox-asdlc-sub004/internal/config"
	"github.com/jb-612/dox-asdlc-sub004/internal/evaluator"
	"github.com/jb-612/dox-asdlc-sub004/internal/mcp"
	"github.com/jb-612/dox-asdlc-sub004/internal/ratelimit"
	"github.com/jb-612/dox-asdlc-sub004/internal/seed"
	"github.com/jb-612/dox-asdlc-sub004/internal/server"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
	"github.com/jb-612/dox-asdlc-sub004/internal/telemetry"
)

// Repository names reported by /health.
const (
	RepositoryStore  = "store"
	RepositoryStatic = "static"
	RepositoryCustom = "custom"
)

const (
	startupPingTimeout = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
)

// App is the server lifecycle. Construct with New, run with Run, release
// with Close.
type App struct {
	cfg          config.Config
	repo         storage.Repository
	repoName     string
	static       *storage.StaticRepository // nil unless serving the fallback file
	eval         *evaluator.Evaluator
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration, connects the repository and wires the
// evaluator, HTTP server and MCP adapter. It starts no goroutines.
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg := o.config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = &loaded
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.staticFile != "" {
		cfg.StaticFile = o.staticFile
	}

	logger.Info("guidelines starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       cfg.OTELEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Insecure:       cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	app := &App{
		cfg:          *cfg,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}

	if o.repo != nil {
		app.repo, app.repoName = o.repo, RepositoryCustom
	} else if err := app.openRepository(ctx); err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	var jwtMgr *auth.JWTManager
	if cfg.AuthEnabled {
		jwtMgr, err = auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("auth: %w", err)
		}
		logger.Info("auth: enabled")
	} else {
		logger.Warn("auth: disabled, every caller may read and write guidelines")
	}

	if cfg.SeedOnStart {
		if app.static != nil {
			logger.Info("seed: skipped, static fallback is read-only")
		} else if _, err := seed.Seed(ctx, app.repo, logger); err != nil {
			app.Close()
			return nil, err
		}
	}

	app.eval = evaluator.New(app.repo, evaluator.Config{
		CacheTTL: cfg.CacheTTL,
		PageSize: cfg.FetchPageSize,
	}, logger)

	mcpSrv := mcp.New(app.eval, app.repo, logger, version)

	app.limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitEnabled {
		app.limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limit: enabled", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	}

	app.srv = server.New(server.ServerConfig{
		Evaluator:           app.eval,
		Repo:                app.repo,
		Logger:              logger,
		RepositoryName:      app.repoName,
		JWTMgr:              jwtMgr,
		MCPServer:           mcpSrv.MCPServer(),
		RateLimiter:         app.limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})
	return app, nil
}

// openRepository prefers the document store and falls back to the static
// file when the store cannot be reached at startup.
func (a *App) openRepository(ctx context.Context) error {
	repo, err := storage.Open(ctx, storage.OpenConfig{
		DatabaseURL: a.cfg.DatabaseURL,
		IndexPrefix: a.cfg.IndexPrefix,
		PrimaryTerm: a.cfg.PrimaryTerm,
		StaticFile:  a.cfg.StaticFile,
		PingTimeout: startupPingTimeout,
	}, a.logger)
	if err != nil {
		return err
	}
	a.repo, a.repoName = repo, RepositoryStore
	if static, ok := repo.(*storage.StaticRepository); ok {
		a.static, a.repoName = static, RepositoryStatic
	}
	return nil
}

// Evaluator returns the evaluator shared by the HTTP and MCP adapters.
func (a *App) Evaluator() *evaluator.Evaluator { return a.eval }

// Repository returns the repository in use.
func (a *App) Repository() storage.Repository { return a.repo }

// RepositoryName reports which repository New selected.
func (a *App) RepositoryName() string { return a.repoName }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.srv.Handler() }

// Run serves HTTP until ctx is done, then shuts down gracefully. In static
// mode it also watches the fallback file and drops the evaluator cache on
// every change.
func (a *App) Run(ctx context.Context) error {
	if a.static != nil {
		go func() {
			if err := a.static.Watch(ctx, a.eval.InvalidateCache); err != nil {
				a.logger.Warn("static watcher stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	a.logger.Info("guidelines shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	a.logger.Info("guidelines stopped")
	return nil
}

// Close releases the repository and flushes telemetry. Safe to call after
// a failed Run.
func (a *App) Close() {
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.logger.Warn("repository close", "error", err)
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown", "error", err)
		}
	}
}
