package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
)

// stored is a guideline document together with its CAS tokens.
type stored struct {
	guideline   model.Guideline
	seqNo       int64
	primaryTerm int64
}

// CreateGuideline writes g, replacing any guideline with the same id. The
// stored guideline always starts at version 1 with both timestamps set to
// now, whatever g carries.
func (s *Store) CreateGuideline(ctx context.Context, g model.Guideline) (model.Guideline, error) {
	g = g.Normalize()
	g.Version = 1
	g.CreatedAt = time.Now().UTC()
	g.UpdatedAt = g.CreatedAt
	if err := g.Validate(); err != nil {
		return model.Guideline{}, err
	}
	doc, err := json.Marshal(g.ToMap())
	if err != nil {
		return model.Guideline{}, fmt.Errorf("storage: marshal guideline: %w", err)
	}
	if err := s.ensureIndex(ctx, s.guidelines); err != nil {
		return model.Guideline{}, repoErr("create_guideline", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.guidelines.table+` (id, doc, seq_no, primary_term)
		 VALUES ($1, $2::jsonb, `+s.guidelines.seq+`, $3)
		 ON CONFLICT (id) DO UPDATE
		 SET doc = EXCLUDED.doc, seq_no = EXCLUDED.seq_no, primary_term = EXCLUDED.primary_term`,
		g.ID, doc, s.term,
	)
	if err != nil {
		return model.Guideline{}, repoErr("create_guideline", err)
	}
	s.logger.Debug("storage: guideline created", "id", g.ID, "version", g.Version)
	return g, nil
}

// GetGuideline returns the guideline with the given id.
func (s *Store) GetGuideline(ctx context.Context, id string) (model.Guideline, error) {
	cur, err := s.getStored(ctx, "get_guideline", id)
	if err != nil {
		return model.Guideline{}, err
	}
	return cur.guideline, nil
}

func (s *Store) getStored(ctx context.Context, op, id string) (stored, error) {
	if err := s.ensureIndex(ctx, s.guidelines); err != nil {
		return stored{}, repoErr(op, err)
	}
	var (
		raw []byte
		cur stored
	)
	err := s.pool.QueryRow(ctx,
		`SELECT doc, seq_no, primary_term FROM `+s.guidelines.table+` WHERE id = $1`, id,
	).Scan(&raw, &cur.seqNo, &cur.primaryTerm)
	if errors.Is(err, pgx.ErrNoRows) {
		return stored{}, &GuidelineNotFoundError{ID: id}
	}
	if err != nil {
		return stored{}, repoErr(op, err)
	}
	if cur.guideline, err = decodeGuideline(raw); err != nil {
		return stored{}, repoErr(op, fmt.Errorf("decode %s: %w", id, err))
	}
	return cur, nil
}

// UpdateGuideline replaces the stored guideline if its version still equals
// g.Version. The write is a compare-and-swap on the seq_no and primary_term
// read with that version, so a writer that slips in between the check and
// the write also produces a *GuidelineConflictError. The returned guideline
// has Version g.Version+1, a fresh UpdatedAt and the stored CreatedAt.
func (s *Store) UpdateGuideline(ctx context.Context, g model.Guideline) (model.Guideline, error) {
	cur, err := s.getStored(ctx, "update_guideline", g.ID)
	if err != nil {
		return model.Guideline{}, err
	}
	if cur.guideline.Version != g.Version {
		return model.Guideline{}, &GuidelineConflictError{ID: g.ID, Expected: g.Version, Actual: cur.guideline.Version}
	}

	next := g.Normalize()
	next.Version = g.Version + 1
	next.CreatedAt = cur.guideline.CreatedAt
	if cur.guideline.CreatedBy != "" {
		next.CreatedBy = cur.guideline.CreatedBy
	}
	next.UpdatedAt = time.Now().UTC()
	if !next.UpdatedAt.After(cur.guideline.UpdatedAt) {
		next.UpdatedAt = cur.guideline.UpdatedAt.Add(time.Nanosecond)
	}
	if err := next.Validate(); err != nil {
		return model.Guideline{}, err
	}
	doc, err := json.Marshal(next.ToMap())
	if err != nil {
		return model.Guideline{}, fmt.Errorf("storage: marshal guideline: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.guidelines.table+`
		 SET doc = $2::jsonb, seq_no = `+s.guidelines.seq+`, primary_term = $5
		 WHERE id = $1 AND seq_no = $3 AND primary_term = $4`,
		g.ID, doc, cur.seqNo, cur.primaryTerm, s.term,
	)
	if err != nil {
		return model.Guideline{}, repoErr("update_guideline", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race. Report what is stored now.
		now, err := s.getStored(ctx, "update_guideline", g.ID)
		if err != nil {
			return model.Guideline{}, err
		}
		s.logger.Debug("storage: guideline cas rejected", "id", g.ID, "seq_no", cur.seqNo)
		return model.Guideline{}, &GuidelineConflictError{ID: g.ID, Expected: g.Version, Actual: now.guideline.Version}
	}
	s.logger.Debug("storage: guideline updated", "id", g.ID, "version", next.Version)
	return next, nil
}

// DeleteGuideline removes the guideline with the given id.
func (s *Store) DeleteGuideline(ctx context.Context, id string) (bool, error) {
	if err := s.ensureIndex(ctx, s.guidelines); err != nil {
		return false, repoErr("delete_guideline", err)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.guidelines.table+` WHERE id = $1`, id)
	if err != nil {
		return false, repoErr("delete_guideline", err)
	}
	if tag.RowsAffected() == 0 {
		return false, &GuidelineNotFoundError{ID: id}
	}
	return true, nil
}

// ListGuidelines returns one page of guidelines matching f, ordered by
// priority descending then name, plus the total number of matches.
func (s *Store) ListGuidelines(ctx context.Context, f GuidelineFilter) ([]model.Guideline, int, error) {
	f = f.Normalize()
	if err := s.ensureIndex(ctx, s.guidelines); err != nil {
		return nil, 0, repoErr("list_guidelines", err)
	}

	var (
		conds []string
		args  []any
	)
	if f.Category != nil {
		args = append(args, string(*f.Category))
		conds = append(conds, fmt.Sprintf("doc->>'category' = $%d", len(args)))
	}
	if f.Enabled != nil {
		args = append(args, *f.Enabled)
		conds = append(conds, fmt.Sprintf("(doc->>'enabled')::boolean = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+s.guidelines.table+where, args...).Scan(&total); err != nil {
		return nil, 0, repoErr("list_guidelines", err)
	}

	pageArgs := append(args, f.PageSize, f.Offset())
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM `+s.guidelines.table+where+`
		 ORDER BY (doc->>'priority')::int DESC, doc->>'name' COLLATE "C" ASC, id COLLATE "C" ASC
		 LIMIT $`+fmt.Sprint(len(args)+1)+` OFFSET $`+fmt.Sprint(len(args)+2),
		pageArgs...,
	)
	if err != nil {
		return nil, 0, repoErr("list_guidelines", err)
	}
	defer rows.Close()

	var out []model.Guideline
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, 0, repoErr("list_guidelines", err)
		}
		g, err := decodeGuideline(raw)
		if err != nil {
			return nil, 0, repoErr("list_guidelines", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, repoErr("list_guidelines", err)
	}
	return out, total, nil
}

func decodeGuideline(raw []byte) (model.Guideline, error) {
	m, err := model.DecodeMap(raw)
	if err != nil {
		return model.Guideline{}, err
	}
	return model.GuidelineFromMap(m)
}
