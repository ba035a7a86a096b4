package storage

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
)

// Base names of the two logical indices.
const (
	GuidelinesIndex = "guidelines"
	AuditIndex      = "guidelines_audit"
)

var indexPrefixPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateIndexPrefix rejects prefixes that could smuggle anything but a
// plain identifier into an index name. The empty prefix is allowed.
func ValidateIndexPrefix(prefix string) error {
	if prefix == "" || indexPrefixPattern.MatchString(prefix) {
		return nil
	}
	return &model.ValidationError{
		Field:   "index_prefix",
		Message: fmt.Sprintf("%q may only contain letters, digits, '-' and '_'", prefix),
	}
}

// IndexName returns base namespaced by prefix.
func IndexName(prefix, base string) string {
	if prefix == "" {
		return base
	}
	return prefix + "_" + base
}

// index is one logical document collection: a table plus the sequence its
// seq_no values are drawn from.
type index struct {
	name  string
	table string // quoted identifier
	seq   string // nextval expression
	ddl   []string
}

func newIndex(name string, audit bool) index {
	table := pgx.Identifier{name}.Sanitize()
	seqName := pgx.Identifier{name + "_seq_no"}.Sanitize()
	idx := index{
		name:  name,
		table: table,
		// Names are validated identifiers, so the regclass literal cannot
		// contain a quote.
		seq: fmt.Sprintf("nextval('%s'::regclass)", seqName),
	}
	cols := `id TEXT PRIMARY KEY,
		doc JSONB NOT NULL,
		seq_no BIGINT NOT NULL,
		primary_term BIGINT NOT NULL`
	if audit {
		cols += `,
		ts TIMESTAMPTZ NOT NULL`
	}
	idx.ddl = []string{
		"CREATE SEQUENCE IF NOT EXISTS " + seqName,
		"CREATE TABLE IF NOT EXISTS " + table + " (\n\t\t" + cols + "\n\t)",
	}
	if audit {
		idx.ddl = append(idx.ddl,
			"CREATE INDEX IF NOT EXISTS "+pgx.Identifier{name + "_ts_idx"}.Sanitize()+" ON "+table+" (ts DESC)")
	} else {
		idx.ddl = append(idx.ddl,
			"CREATE INDEX IF NOT EXISTS "+pgx.Identifier{name + "_priority_idx"}.Sanitize()+
				" ON "+table+" (((doc->>'priority')::int) DESC, (doc->>'name') COLLATE \"C\")")
	}
	return idx
}

// ensureIndex creates idx on first use. Once an index is known to exist the
// check is skipped for the life of the Store.
func (s *Store) ensureIndex(ctx context.Context, idx index) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.ensured[idx.name] {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass($1::text) IS NOT NULL`, idx.table).Scan(&exists); err != nil {
		return fmt.Errorf("check index %s: %w", idx.name, err)
	}
	if !exists {
		for _, stmt := range idx.ddl {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("create index %s: %w", idx.name, err)
			}
		}
		s.logger.Info("storage: created index", "index", idx.name)
	}
	s.ensured[idx.name] = true
	return nil
}
