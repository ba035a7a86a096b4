package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultOpenPingTimeout bounds the startup reachability check in Open.
const DefaultOpenPingTimeout = 5 * time.Second

// OpenConfig selects and configures a repository.
type OpenConfig struct {
	DatabaseURL string
	IndexPrefix string
	PrimaryTerm int64
	// StaticFile is the read-only fallback. Empty disables it.
	StaticFile  string
	PingTimeout time.Duration
}

// Open returns the Store when DatabaseURL is set and the database answers a
// ping, otherwise a StaticRepository over StaticFile. It fails when neither
// is usable.
func Open(ctx context.Context, cfg OpenConfig, logger *slog.Logger) (Repository, error) {
	if cfg.DatabaseURL == "" && cfg.StaticFile == "" {
		return nil, errors.New("storage: no database URL or static file configured")
	}
	if cfg.DatabaseURL != "" {
		store, err := NewStore(StoreConfig{
			DSN:         cfg.DatabaseURL,
			IndexPrefix: cfg.IndexPrefix,
			PrimaryTerm: cfg.PrimaryTerm,
		}, logger)
		if err != nil {
			return nil, err
		}
		timeout := cfg.PingTimeout
		if timeout <= 0 {
			timeout = DefaultOpenPingTimeout
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err = store.Ping(pingCtx)
		cancel()
		if err == nil {
			logger.Info("storage: using store", "index_prefix", cfg.IndexPrefix)
			return store, nil
		}
		_ = store.Close()
		if cfg.StaticFile == "" {
			return nil, fmt.Errorf("storage: store unreachable and no static fallback configured: %w", err)
		}
		logger.Warn("storage: store unreachable, using static fallback",
			"static_file", cfg.StaticFile, "error", err)
	}
	logger.Info("storage: using static file", "path", cfg.StaticFile)
	return NewStaticRepository(cfg.StaticFile, logger), nil
}
