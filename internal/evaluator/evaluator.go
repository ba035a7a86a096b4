// Package evaluator decides which guidelines apply to a task context.
//
// The evaluator pulls enabled guidelines from a storage.Repository, keeps
// them for a configurable TTL, matches them against the context and merges
// the matches by priority into a single EvaluatedContext.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
	"github.com/jb-612/dox-asdlc-sub004/internal/telemetry"
)

// Defaults for Config fields left at zero. CacheTTL has no default here:
// zero disables caching.
const (
	DefaultPageSize     = 10_000
	DefaultFetchTimeout = 10 * time.Second
)

const fetchKey = "guidelines"

// Config tunes an Evaluator.
type Config struct {
	// CacheTTL is how long a fetched guideline set is reused. Zero or
	// negative disables caching: every evaluation fetches.
	CacheTTL time.Duration
	// PageSize is the page size of the single fetch. Repositories holding
	// more enabled guidelines than this are evaluated on the first page
	// only, with a warning.
	PageSize int
	// FetchTimeout bounds a shared fetch. Callers still stop waiting at
	// their own deadline.
	FetchTimeout time.Duration
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithClock replaces time.Now for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// snapshot is one fetched guideline set. A snapshot with a zero fetchedAt
// marks an invalidated cache.
type snapshot struct {
	guidelines []model.Guideline
	fetchedAt  time.Time
	gen        uint64
}

func (s *snapshot) valid() bool {
	return s != nil && !s.fetchedAt.IsZero()
}

// Evaluator is safe for concurrent use. Each instance has its own cache.
type Evaluator struct {
	repo   storage.Repository
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	cache atomic.Pointer[snapshot]
	gen   atomic.Uint64
	group singleflight.Group

	tracer      trace.Tracer
	evaluations metric.Int64Counter
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
	duration    metric.Float64Histogram
}

// New creates an Evaluator reading from repo.
func New(repo storage.Repository, cfg Config, logger *slog.Logger, opts ...Option) *Evaluator {
	if cfg.PageSize < 1 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}

	meter := telemetry.Meter("guidelines/evaluator")
	evaluations, _ := meter.Int64Counter("guidelines.evaluations",
		metric.WithDescription("Task contexts evaluated"),
	)
	hits, _ := meter.Int64Counter("guidelines.cache.hits",
		metric.WithDescription("Evaluations served from the guideline cache"),
	)
	misses, _ := meter.Int64Counter("guidelines.cache.misses",
		metric.WithDescription("Evaluations that fetched guidelines"),
	)
	dur, _ := meter.Float64Histogram("guidelines.evaluation.duration",
		metric.WithDescription("Time to evaluate a task context (ms)"),
		metric.WithUnit("ms"),
	)

	e := &Evaluator{
		repo:        repo,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		tracer:      telemetry.Tracer("guidelines/evaluator"),
		evaluations: evaluations,
		cacheHits:   hits,
		cacheMisses: misses,
		duration:    dur,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetContext evaluates tc against every enabled guideline. No match is not
// an error: the result then has no matched guidelines and an empty
// instruction. An error is returned only when tc is invalid or guidelines
// cannot be fetched and nothing is cached.
func (e *Evaluator) GetContext(ctx context.Context, tc model.TaskContext) (model.EvaluatedContext, error) {
	if err := tc.Validate(); err != nil {
		return model.EvaluatedContext{}, err
	}
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "evaluator.get_context",
		trace.WithAttributes(attribute.String("guidelines.agent", tc.Agent)),
	)
	defer span.End()

	guidelines, err := e.guidelines(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch guidelines")
		return model.EvaluatedContext{}, err
	}

	var matched []model.EvaluatedGuideline
	for _, g := range guidelines {
		if !g.Enabled {
			continue
		}
		ok, fields := ConditionMatches(g.Condition, tc)
		if !ok {
			continue
		}
		matched = append(matched, model.EvaluatedGuideline{
			Guideline:     g,
			MatchScore:    MatchScore(g.Condition, fields),
			MatchedFields: fields,
		})
	}
	result := ResolveConflicts(matched, tc)

	span.SetAttributes(
		attribute.Int("guidelines.candidates", len(guidelines)),
		attribute.Int("guidelines.matched", len(result.MatchedGuidelines)),
	)
	attrs := metric.WithAttributes(attribute.String("agent", tc.Agent))
	e.evaluations.Add(ctx, 1, attrs)
	e.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000.0, attrs)
	return result, nil
}

// LogDecision appends d to the audit log and returns the entry id.
func (e *Evaluator) LogDecision(ctx context.Context, d model.GateDecision) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	id, err := e.repo.LogAuditEntry(ctx, model.NewGateDecisionEntry(d).ToMap())
	if err != nil {
		return "", fmt.Errorf("evaluator: log decision: %w", err)
	}
	e.logger.Info("evaluator: gate decision logged",
		"audit_id", id,
		"guideline_id", d.GuidelineID,
		"gate_type", d.GateType,
		"result", string(d.Result),
	)
	return id, nil
}

// InvalidateCache makes the next GetContext fetch. A fetch already in
// flight finishes for its waiters but its result is not cached.
func (e *Evaluator) InvalidateCache() {
	e.cache.Store(&snapshot{gen: e.gen.Add(1)})
	e.group.Forget(fetchKey)
	e.logger.Debug("evaluator: cache invalidated")
}

// guidelines returns the cached set when fresh and fetches otherwise.
// Concurrent fetches are collapsed into one. If a fetch fails, or the
// caller's deadline passes first, any set cached before is used.
func (e *Evaluator) guidelines(ctx context.Context) ([]model.Guideline, error) {
	if e.cfg.CacheTTL <= 0 {
		e.cacheMisses.Add(ctx, 1)
		return e.fetch(ctx)
	}
	if snap := e.cache.Load(); e.fresh(snap) {
		e.cacheHits.Add(ctx, 1)
		return snap.guidelines, nil
	}
	e.cacheMisses.Add(ctx, 1)

	gen := e.gen.Load()
	ch := e.group.DoChan(fetchKey, func() (any, error) {
		if snap := e.cache.Load(); e.fresh(snap) {
			return snap.guidelines, nil
		}
		// The fetch is shared, so it must outlive any single caller.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.FetchTimeout)
		defer cancel()
		gs, err := e.fetch(fctx)
		if err != nil {
			return nil, err
		}
		e.store(gs, gen)
		return gs, nil
	})

	select {
	case <-ctx.Done():
		err := fmt.Errorf("evaluator: fetch guidelines: %w", ctx.Err())
		if gs, ok := e.stale(err); ok {
			return gs, nil
		}
		return nil, err
	case res := <-ch:
		if res.Err == nil {
			return res.Val.([]model.Guideline), nil
		}
		if gs, ok := e.stale(res.Err); ok {
			return gs, nil
		}
		return nil, res.Err
	}
}

// stale returns the last cached set, expired or not, after a failed or
// abandoned fetch. There is none after InvalidateCache.
func (e *Evaluator) stale(cause error) ([]model.Guideline, bool) {
	snap := e.cache.Load()
	if !snap.valid() {
		return nil, false
	}
	e.logger.Warn("evaluator: fetch failed, using stale guidelines",
		"error", cause,
		"age", e.now().Sub(snap.fetchedAt).String(),
		"count", len(snap.guidelines),
	)
	return snap.guidelines, true
}

func (e *Evaluator) fresh(snap *snapshot) bool {
	return snap.valid() && e.now().Sub(snap.fetchedAt) < e.cfg.CacheTTL
}

// store caches gs unless the cache was invalidated after the fetch began.
func (e *Evaluator) store(gs []model.Guideline, gen uint64) {
	old := e.cache.Load()
	if e.gen.Load() != gen || (old != nil && old.gen != gen) {
		return
	}
	e.cache.CompareAndSwap(old, &snapshot{guidelines: gs, fetchedAt: e.now(), gen: gen})
}

func (e *Evaluator) fetch(ctx context.Context) ([]model.Guideline, error) {
	enabled := true
	gs, total, err := e.repo.ListGuidelines(ctx, storage.GuidelineFilter{
		Enabled:  &enabled,
		Page:     1,
		PageSize: e.cfg.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluator: fetch guidelines: %w", err)
	}
	if total > len(gs) {
		e.logger.Warn("evaluator: more enabled guidelines than one fetch returns; evaluating a partial set",
			"returned", len(gs),
			"total", total,
			"page_size", e.cfg.PageSize,
		)
	}
	return gs, nil
}
