// Package storage persists guidelines and the audit log.
//
// Store keeps both in PostgreSQL, used as a document store: every logical
// index is a table of JSONB documents carrying a sequence number and primary
// term that writes compare-and-swap on. StaticRepository serves guidelines
// read-only from a local file when the Store is unreachable.
package storage

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
)

// Page size defaults applied when a filter asks for less than one item.
const (
	DefaultGuidelinePageSize = 20
	DefaultAuditPageSize     = 50
)

// Repository is the persistence contract the evaluator and adapters use.
type Repository interface {
	CreateGuideline(ctx context.Context, g model.Guideline) (model.Guideline, error)
	GetGuideline(ctx context.Context, id string) (model.Guideline, error)
	UpdateGuideline(ctx context.Context, g model.Guideline) (model.Guideline, error)
	DeleteGuideline(ctx context.Context, id string) (bool, error)
	ListGuidelines(ctx context.Context, f GuidelineFilter) ([]model.Guideline, int, error)
	LogAuditEntry(ctx context.Context, entry map[string]any) (string, error)
	ListAuditEntries(ctx context.Context, f AuditFilter) ([]map[string]any, int, error)
	Close() error
}

// Pinger is implemented by repositories that can probe their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GuidelineFilter selects a page of guidelines. Nil filters match anything.
type GuidelineFilter struct {
	Category *model.Category
	Enabled  *bool
	Page     int
	PageSize int
}

// Normalize clamps Page to at least 1 and defaults PageSize.
func (f GuidelineFilter) Normalize() GuidelineFilter {
	f.Page, f.PageSize = normalizePage(f.Page, f.PageSize, DefaultGuidelinePageSize)
	return f
}

// Offset is the number of items skipped before the page starts.
func (f GuidelineFilter) Offset() int {
	n := f.Normalize()
	return (n.Page - 1) * n.PageSize
}

// AuditFilter selects a page of audit entries. DateFrom and DateTo bound
// the entry timestamp inclusively; zero values leave that side open.
type AuditFilter struct {
	GuidelineID string
	EventType   string
	DateFrom    time.Time
	DateTo      time.Time
	Page        int
	PageSize    int
}

func (f AuditFilter) Normalize() AuditFilter {
	f.Page, f.PageSize = normalizePage(f.Page, f.PageSize, DefaultAuditPageSize)
	return f
}

func (f AuditFilter) Offset() int {
	n := f.Normalize()
	return (n.Page - 1) * n.PageSize
}

func normalizePage(page, size, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = def
	}
	return page, size
}

// CompareGuidelines orders by priority descending, then name ascending by
// byte value, then id so the order is total.
func CompareGuidelines(a, b model.Guideline) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// FilterGuidelines applies f to an in-memory set the same way the Store
// applies it in SQL. It returns the requested page and the number of
// guidelines that matched before pagination. all is not modified.
func FilterGuidelines(all []model.Guideline, f GuidelineFilter) ([]model.Guideline, int) {
	f = f.Normalize()
	matched := make([]model.Guideline, 0, len(all))
	for _, g := range all {
		if f.Category != nil && g.Category != *f.Category {
			continue
		}
		if f.Enabled != nil && g.Enabled != *f.Enabled {
			continue
		}
		matched = append(matched, g)
	}
	slices.SortStableFunc(matched, CompareGuidelines)

	total := len(matched)
	start := f.Offset()
	if start >= total {
		return nil, total
	}
	end := min(start+f.PageSize, total)
	return slices.Clone(matched[start:end]), total
}
