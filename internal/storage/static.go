package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
)

// MaxStaticFileSize is the largest guideline file StaticRepository will read.
const MaxStaticFileSize = 10 << 20

// StaticRepository is a read-only Repository backed by one JSON or YAML
// file. The file holds either a list of guideline documents or an object
// with a "guidelines" list. It is re-parsed only when its modification time
// or size changes. An unreadable, oversized or malformed file is logged and
// treated as empty.
type StaticRepository struct {
	path   string
	logger *slog.Logger

	mu         sync.Mutex
	loaded     bool
	modTime    time.Time
	size       int64
	guidelines []model.Guideline
}

var _ Repository = (*StaticRepository)(nil)

// NewStaticRepository returns a repository reading path. The file is not
// touched until the first read.
func NewStaticRepository(path string, logger *slog.Logger) *StaticRepository {
	return &StaticRepository{path: path, logger: logger}
}

// Path returns the backing file path.
func (r *StaticRepository) Path() string { return r.path }

func (r *StaticRepository) snapshot() []model.Guideline {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(r.path)
	if err != nil {
		r.logger.Warn("storage: static guidelines unavailable", "path", r.path, "error", err)
		r.loaded, r.guidelines = false, nil
		return nil
	}
	if r.loaded && info.ModTime().Equal(r.modTime) && info.Size() == r.size {
		return r.guidelines
	}

	r.loaded, r.modTime, r.size = true, info.ModTime(), info.Size()
	r.guidelines = nil
	if info.Size() > MaxStaticFileSize {
		r.logger.Warn("storage: static guidelines file too large, ignoring",
			"path", r.path, "size", info.Size(), "limit", MaxStaticFileSize)
		return nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		r.logger.Warn("storage: read static guidelines", "path", r.path, "error", err)
		return nil
	}
	gs, err := r.parse(data)
	if err != nil {
		r.logger.Warn("storage: parse static guidelines", "path", r.path, "error", err)
		return nil
	}
	r.guidelines = gs
	r.logger.Info("storage: loaded static guidelines", "path", r.path, "count", len(gs))
	return gs
}

// parse decodes the file body. Entries that fail validation are skipped
// with a warning; a body that is not a list of objects is an error.
func (r *StaticRepository) parse(data []byte) ([]model.Guideline, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	var items []any
	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		items = v
	case map[string]any:
		list, ok := v["guidelines"].([]any)
		if !ok {
			return nil, errors.New(`expected a list or an object with a "guidelines" list`)
		}
		items = list
	default:
		return nil, fmt.Errorf("unexpected top-level %T", doc)
	}

	out := make([]model.Guideline, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("entry %d: expected object, got %T", i, item)
		}
		g, err := model.GuidelineFromMap(m)
		if err != nil {
			r.logger.Warn("storage: skipping invalid static guideline", "path", r.path, "index", i, "error", err)
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

// Invalidate drops the parsed file so the next read re-parses it.
func (r *StaticRepository) Invalidate() {
	r.mu.Lock()
	r.loaded, r.guidelines = false, nil
	r.mu.Unlock()
}

func (r *StaticRepository) GetGuideline(_ context.Context, id string) (model.Guideline, error) {
	for _, g := range r.snapshot() {
		if g.ID == id {
			return g, nil
		}
	}
	return model.Guideline{}, &GuidelineNotFoundError{ID: id}
}

func (r *StaticRepository) ListGuidelines(_ context.Context, f GuidelineFilter) ([]model.Guideline, int, error) {
	page, total := FilterGuidelines(r.snapshot(), f)
	return page, total, nil
}

func (r *StaticRepository) CreateGuideline(context.Context, model.Guideline) (model.Guideline, error) {
	return model.Guideline{}, repoErr("create_guideline", ErrReadOnly)
}

func (r *StaticRepository) UpdateGuideline(context.Context, model.Guideline) (model.Guideline, error) {
	return model.Guideline{}, repoErr("update_guideline", ErrReadOnly)
}

func (r *StaticRepository) DeleteGuideline(context.Context, string) (bool, error) {
	return false, repoErr("delete_guideline", ErrReadOnly)
}

// LogAuditEntry discards entry and returns a freshly generated id. Audit is
// not durable in fallback mode.
func (r *StaticRepository) LogAuditEntry(_ context.Context, entry map[string]any) (string, error) {
	id := uuid.NewString()
	r.logger.Debug("storage: audit entry dropped in static mode", "id", id, "event_type", entry["event_type"])
	return id, nil
}

func (r *StaticRepository) ListAuditEntries(context.Context, AuditFilter) ([]map[string]any, int, error) {
	return nil, 0, nil
}

// Ping reports whether the backing file can be stat'ed.
func (r *StaticRepository) Ping(context.Context) error {
	if _, err := os.Stat(r.path); err != nil {
		return repoErr("ping", err)
	}
	return nil
}

func (r *StaticRepository) Close() error { return nil }

// Watch drops the parsed file as soon as it changes on disk and then calls
// each onChange callback. The directory is watched rather than the file so
// editors that replace the file atomically are still seen. Watch blocks
// until ctx is done.
func (r *StaticRepository) Watch(ctx context.Context, onChange ...func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("storage: create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	target := filepath.Clean(r.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("storage: watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			r.Invalidate()
			r.logger.Debug("storage: static guidelines changed", "path", r.path, "op", ev.Op.String())
			for _, fn := range onChange {
				fn()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("storage: static watcher error", "path", r.path, "error", err)
		}
	}
}
