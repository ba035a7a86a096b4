package testutil

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
)

// MemoryRepository is an in-memory storage.Repository with the Store's
// versioning and ordering rules. It counts calls so tests can assert on
// fetch behaviour, and can be told to fail.
type MemoryRepository struct {
	mu         sync.Mutex
	guidelines map[string]model.Guideline
	order      []string
	audit      []map[string]any

	listCalls int
	// ListErr, when set, is returned by ListGuidelines.
	ListErr error
	// AuditErr, when set, is returned by LogAuditEntry.
	AuditErr error
	// ReportedTotal, when positive, replaces the total ListGuidelines reports.
	ReportedTotal int
}

var _ storage.Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns a repository holding gs in the given order.
func NewMemoryRepository(gs ...model.Guideline) *MemoryRepository {
	r := &MemoryRepository{guidelines: make(map[string]model.Guideline)}
	for _, g := range gs {
		r.put(withDefaults(g))
	}
	return r
}

func withDefaults(g model.Guideline) model.Guideline {
	g = g.Normalize()
	if g.Version < 1 {
		g.Version = 1
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = g.CreatedAt
	}
	return g
}

func (r *MemoryRepository) put(g model.Guideline) {
	if _, ok := r.guidelines[g.ID]; !ok {
		r.order = append(r.order, g.ID)
	}
	r.guidelines[g.ID] = g
}

// ListCalls returns how many times ListGuidelines has been called.
func (r *MemoryRepository) ListCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls
}

// SetListErr changes ListErr under the lock.
func (r *MemoryRepository) SetListErr(err error) {
	r.mu.Lock()
	r.ListErr = err
	r.mu.Unlock()
}

// Audit returns a copy of every logged audit entry in write order.
func (r *MemoryRepository) Audit() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.audit)
}

// CreateGuideline stores g at version 1 with fresh timestamps, as the Store
// does. Fixtures passed to NewMemoryRepository keep their own values.
func (r *MemoryRepository) CreateGuideline(_ context.Context, g model.Guideline) (model.Guideline, error) {
	g = g.Normalize()
	g.Version = 1
	g.CreatedAt = time.Now().UTC()
	g.UpdatedAt = g.CreatedAt
	if err := g.Validate(); err != nil {
		return model.Guideline{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(g)
	return g, nil
}

func (r *MemoryRepository) GetGuideline(_ context.Context, id string) (model.Guideline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guidelines[id]
	if !ok {
		return model.Guideline{}, &storage.GuidelineNotFoundError{ID: id}
	}
	return g, nil
}

func (r *MemoryRepository) UpdateGuideline(_ context.Context, g model.Guideline) (model.Guideline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.guidelines[g.ID]
	if !ok {
		return model.Guideline{}, &storage.GuidelineNotFoundError{ID: g.ID}
	}
	if cur.Version != g.Version {
		return model.Guideline{}, &storage.GuidelineConflictError{ID: g.ID, Expected: g.Version, Actual: cur.Version}
	}
	next := g.Normalize()
	next.Version = g.Version + 1
	next.CreatedAt = cur.CreatedAt
	if cur.CreatedBy != "" {
		next.CreatedBy = cur.CreatedBy
	}
	next.UpdatedAt = time.Now().UTC()
	if !next.UpdatedAt.After(cur.UpdatedAt) {
		next.UpdatedAt = cur.UpdatedAt.Add(time.Nanosecond)
	}
	if err := next.Validate(); err != nil {
		return model.Guideline{}, err
	}
	r.guidelines[g.ID] = next
	return next, nil
}

func (r *MemoryRepository) DeleteGuideline(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.guidelines[id]; !ok {
		return false, &storage.GuidelineNotFoundError{ID: id}
	}
	delete(r.guidelines, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	return true, nil
}

func (r *MemoryRepository) ListGuidelines(_ context.Context, f storage.GuidelineFilter) ([]model.Guideline, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	if r.ListErr != nil {
		return nil, 0, r.ListErr
	}
	all := make([]model.Guideline, 0, len(r.order))
	for _, id := range r.order {
		all = append(all, r.guidelines[id])
	}
	page, total := storage.FilterGuidelines(all, f)
	if r.ReportedTotal > 0 {
		total = r.ReportedTotal
	}
	return page, total, nil
}

func (r *MemoryRepository) LogAuditEntry(_ context.Context, entry map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AuditErr != nil {
		return "", r.AuditErr
	}
	e := maps.Clone(entry)
	if e == nil {
		e = map[string]any{}
	}
	id, _ := e["id"].(string)
	if id == "" {
		id = uuid.NewString()
		e["id"] = id
	}
	if _, ok := e["timestamp"]; !ok {
		e["timestamp"] = model.FormatTime(time.Now())
	}
	r.audit = append(r.audit, e)
	return id, nil
}

func (r *MemoryRepository) ListAuditEntries(_ context.Context, f storage.AuditFilter) ([]map[string]any, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f = f.Normalize()
	var matched []map[string]any
	for i := len(r.audit) - 1; i >= 0; i-- {
		e := r.audit[i]
		if f.GuidelineID != "" && e["guideline_id"] != f.GuidelineID {
			continue
		}
		if f.EventType != "" && e["event_type"] != f.EventType {
			continue
		}
		matched = append(matched, e)
	}
	total := len(matched)
	start := f.Offset()
	if start >= total {
		return nil, total, nil
	}
	return slices.Clone(matched[start:min(start+f.PageSize, total)]), total, nil
}

func (r *MemoryRepository) Close() error { return nil }
