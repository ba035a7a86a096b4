package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPrimaryTerm is the term stamped on documents when none is configured.
const DefaultPrimaryTerm = 1

// StoreConfig configures a Store.
type StoreConfig struct {
	DSN         string
	IndexPrefix string
	// PrimaryTerm is written alongside every document and must match on
	// compare-and-swap. Bump it when a deployment takes over the data.
	PrimaryTerm int64
	MaxConns    int32
}

// Store is the PostgreSQL-backed Repository. Safe for concurrent use by
// multiple goroutines and by multiple processes sharing one database.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	term   int64

	guidelines index
	audit      index

	indexMu sync.Mutex
	ensured map[string]bool

	closeOnce sync.Once
}

var _ Repository = (*Store)(nil)

// NewStore validates cfg and prepares a connection pool. No connection is
// opened until the first operation, so a Store for an unreachable database
// can still be constructed and closed.
func NewStore(cfg StoreConfig, logger *slog.Logger) (*Store, error) {
	if err := ValidateIndexPrefix(cfg.IndexPrefix); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}
	poolCfg.MinConns = 0
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	term := cfg.PrimaryTerm
	if term <= 0 {
		term = DefaultPrimaryTerm
	}
	return &Store{
		pool:       pool,
		logger:     logger,
		term:       term,
		guidelines: newIndex(IndexName(cfg.IndexPrefix, GuidelinesIndex), false),
		audit:      newIndex(IndexName(cfg.IndexPrefix, AuditIndex), true),
		ensured:    make(map[string]bool),
	}, nil
}

// GuidelinesIndex returns the namespaced name of the guideline index.
func (s *Store) GuidelinesIndex() string { return s.guidelines.name }

// AuditIndex returns the namespaced name of the audit index.
func (s *Store) AuditIndex() string { return s.audit.name }

// Ping checks connectivity to the database.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return repoErr("ping", err)
	}
	return nil
}

// Close releases the pool. Calling it more than once is harmless.
func (s *Store) Close() error {
	s.closeOnce.Do(s.pool.Close)
	return nil
}
