package guidelines

import (
	"log/slog"

	"github.com/jb-612/dox-asdlc-sub004/internal/config"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all overrides after applying options.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	staticFile  string
	logger      *slog.Logger
	version     string
	config      *config.Config
	repo        storage.Repository
}

// WithPort overrides the TCP port from config (GUIDELINES_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the store connection string (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithStaticFile overrides the fallback guideline file (GUIDELINES_STATIC_FILE env var).
func WithStaticFile(path string) Option {
	return func(o *resolvedOptions) { o.staticFile = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithConfig replaces environment loading with cfg. Port, database URL and
// static file options still apply on top.
func WithConfig(cfg config.Config) Option {
	return func(o *resolvedOptions) { o.config = &cfg }
}

// WithRepository skips backend selection and serves from repo. The App
// closes repo on Close.
func WithRepository(repo storage.Repository) Option {
	return func(o *resolvedOptions) { o.repo = repo }
}
