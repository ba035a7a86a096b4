package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
)

// prepareAuditEntry copies entry and fills in a random id and the current
// UTC time when they are missing. It returns the copy and its timestamp.
func prepareAuditEntry(entry map[string]any) (map[string]any, time.Time, error) {
	e := maps.Clone(entry)
	if e == nil {
		e = map[string]any{}
	}
	if id, _ := e["id"].(string); id == "" {
		e["id"] = uuid.NewString()
	}
	ts, err := model.TimeValue(e["timestamp"], "timestamp")
	if err != nil {
		return nil, time.Time{}, err
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	e["timestamp"] = model.FormatTime(ts)
	return e, ts, nil
}

// LogAuditEntry appends entry to the audit index and returns its id.
// Entries are never updated; writing an id twice fails.
func (s *Store) LogAuditEntry(ctx context.Context, entry map[string]any) (string, error) {
	e, ts, err := prepareAuditEntry(entry)
	if err != nil {
		return "", err
	}
	id, ok := e["id"].(string)
	if !ok {
		return "", &model.ValidationError{Field: "id", Message: fmt.Sprintf("expected string, got %T", e["id"])}
	}
	doc, err := json.Marshal(e)
	if err != nil {
		return "", &model.ValidationError{Field: "entry", Message: err.Error()}
	}
	if err := s.ensureIndex(ctx, s.audit); err != nil {
		return "", repoErr("log_audit_entry", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.audit.table+` (id, doc, seq_no, primary_term, ts)
		 VALUES ($1, $2::jsonb, `+s.audit.seq+`, $3, $4)`,
		id, doc, s.term, ts,
	)
	if err != nil {
		return "", repoErr("log_audit_entry", err)
	}
	return id, nil
}

// ListAuditEntries returns one page of audit entries matching f, newest
// first, plus the total number of matches.
func (s *Store) ListAuditEntries(ctx context.Context, f AuditFilter) ([]map[string]any, int, error) {
	f = f.Normalize()
	if err := s.ensureIndex(ctx, s.audit); err != nil {
		return nil, 0, repoErr("list_audit_entries", err)
	}

	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.GuidelineID != "" {
		add("doc->>'guideline_id' = $%d", f.GuidelineID)
	}
	if f.EventType != "" {
		add("doc->>'event_type' = $%d", f.EventType)
	}
	if !f.DateFrom.IsZero() {
		add("ts >= $%d", f.DateFrom.UTC())
	}
	if !f.DateTo.IsZero() {
		add("ts <= $%d", f.DateTo.UTC())
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+s.audit.table+where, args...).Scan(&total); err != nil {
		return nil, 0, repoErr("list_audit_entries", err)
	}

	n := len(args)
	args = append(args, f.PageSize, f.Offset())
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT doc FROM %s%s ORDER BY ts DESC, seq_no DESC LIMIT $%d OFFSET $%d`,
			s.audit.table, where, n+1, n+2),
		args...,
	)
	if err != nil {
		return nil, 0, repoErr("list_audit_entries", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, 0, repoErr("list_audit_entries", err)
		}
		m, err := model.DecodeMap(raw)
		if err != nil {
			return nil, 0, repoErr("list_audit_entries", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, repoErr("list_audit_entries", err)
	}
	return out, total, nil
}
