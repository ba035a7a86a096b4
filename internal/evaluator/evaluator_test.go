package evaluator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jb-612/dox-asdlc-sub004/internal/evaluator"
	"github.com/jb-612/dox-asdlc-sub004/internal/model"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
	"github.com/jb-612/dox-asdlc-sub004/internal/testutil"
)

func gl(id string, priority int, cond model.Condition, action model.Action) model.Guideline {
	if action.Type == "" {
		action.Type = model.ActionInstruction
	}
	return model.Guideline{
		ID:        id,
		Name:      id,
		Enabled:   true,
		Category:  model.CategoryCustom,
		Priority:  priority,
		Condition: cond,
		Action:    action,
		Version:   1,
	}
}

func newEvaluator(repo storage.Repository, ttl time.Duration, opts ...evaluator.Option) *evaluator.Evaluator {
	return evaluator.New(repo, evaluator.Config{CacheTTL: ttl}, testutil.TestLogger(), opts...)
}

var backend = model.TaskContext{Agent: "backend", Domain: "P01", Action: "implement", Paths: []string{"src/workers/x.py"}}

func TestGetContext_PriorityOrderAndInstructions(t *testing.T) {
	repo := testutil.NewMemoryRepository(
		gl("b", 100, model.Condition{}, model.Action{Instruction: "B"}),
		gl("a", 900, model.Condition{Agents: []string{"backend"}}, model.Action{Instruction: "A"}),
	)
	ec, err := newEvaluator(repo, time.Minute).GetContext(context.Background(), backend)
	require.NoError(t, err)

	assert.Equal(t, "A\n\nB", ec.CombinedInstruction)
	require.Len(t, ec.MatchedGuidelines, 2)
	assert.Equal(t, 900, ec.MatchedGuidelines[0].Guideline.Priority)
	assert.Equal(t, []string{"agents"}, ec.MatchedGuidelines[0].MatchedFields)
	assert.Equal(t, 1.0, ec.MatchedGuidelines[1].MatchScore)
	assert.Equal(t, backend, ec.Context)
}

func TestGetContext_NoMatch(t *testing.T) {
	repo := testutil.NewMemoryRepository(
		gl("fe", 500, model.Condition{Agents: []string{"frontend"}}, model.Action{Instruction: "F"}),
	)
	ec, err := newEvaluator(repo, 0).GetContext(context.Background(), backend)
	require.NoError(t, err)
	assert.Empty(t, ec.MatchedGuidelines)
	assert.Equal(t, "", ec.CombinedInstruction)
	assert.Equal(t, model.EmptyEvaluatedContext(backend), ec)
}

func TestGetContext_DenyWins(t *testing.T) {
	repo := testutil.NewMemoryRepository(
		gl("x", 900, model.Condition{}, model.Action{Type: model.ActionToolRestriction, ToolsAllowed: []string{"docker", "git"}}),
		gl("y", 1, model.Condition{}, model.Action{Type: model.ActionToolRestriction, ToolsDenied: []string{"docker"}}),
	)
	ec, err := newEvaluator(repo, 0).GetContext(context.Background(), backend)
	require.NoError(t, err)
	assert.Equal(t, []string{"git"}, ec.ToolsAllowed)
	assert.Equal(t, []string{"docker"}, ec.ToolsDenied)
}

func TestGetContext_HITLGates(t *testing.T) {
	repo := testutil.NewMemoryRepository(
		gl("g1", 10, model.Condition{}, model.Action{Type: model.ActionHITLGate, GateType: "merge"}),
		gl("g2", 20, model.Condition{}, model.Action{Type: model.ActionHITLGate, GateType: "deploy"}),
		gl("g3", 30, model.Condition{}, model.Action{Type: model.ActionHITLGate, GateType: "merge"}),
	)
	ec, err := newEvaluator(repo, 0).GetContext(context.Background(), backend)
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy", "merge"}, ec.HITLGates)
}

// unfilteredRepository returns every guideline regardless of the filter.
type unfilteredRepository struct {
	*testutil.MemoryRepository
	all []model.Guideline
}

func (r *unfilteredRepository) ListGuidelines(context.Context, storage.GuidelineFilter) ([]model.Guideline, int, error) {
	return r.all, len(r.all), nil
}

func TestGetContext_DisabledNeverMatched(t *testing.T) {
	off := gl("off", 1000, model.Condition{}, model.Action{Instruction: "never"})
	off.Enabled = false
	on := gl("on", 1, model.Condition{}, model.Action{Instruction: "yes"})

	for name, repo := range map[string]storage.Repository{
		"filtered":   testutil.NewMemoryRepository(off, on),
		"unfiltered": &unfilteredRepository{MemoryRepository: testutil.NewMemoryRepository(), all: []model.Guideline{off, on}},
	} {
		t.Run(name, func(t *testing.T) {
			ec, err := newEvaluator(repo, 0).GetContext(context.Background(), backend)
			require.NoError(t, err)
			require.Len(t, ec.MatchedGuidelines, 1)
			assert.Equal(t, "on", ec.MatchedGuidelines[0].Guideline.ID)
			assert.Equal(t, "yes", ec.CombinedInstruction)
		})
	}
}

func TestGetContext_InvalidContext(t *testing.T) {
	repo := testutil.NewMemoryRepository()
	_, err := newEvaluator(repo, 0).GetContext(context.Background(), model.TaskContext{})
	assert.True(t, model.IsValidation(err))
	assert.Zero(t, repo.ListCalls())
}

// ---- cache ---------------------------------------------------------------

func TestCache_TTLZeroAlwaysFetches(t *testing.T) {
	repo := testutil.NewMemoryRepository(gl("a", 1, model.Condition{}, model.Action{}))
	ev := newEvaluator(repo, 0)
	for range 3 {
		_, err := ev.GetContext(context.Background(), backend)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, repo.ListCalls())
}

func TestCache_TTLReusesWithinWindow(t *testing.T) {
	repo := testutil.NewMemoryRepository(gl("a", 1, model.Condition{}, model.Action{}))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := newEvaluator(repo, 60*time.Second, evaluator.WithClock(func() time.Time { return now }))

	_, err := ev.GetContext(context.Background(), backend)
	require.NoError(t, err)
	now = now.Add(59 * time.Second)
	_, err = ev.GetContext(context.Background(), backend)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.ListCalls())

	now = now.Add(time.Second)
	_, err = ev.GetContext(context.Background(), backend)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.ListCalls())
}

func TestCache_Invalidate(t *testing.T) {
	repo := testutil.NewMemoryRepository(gl("a", 1, model.Condition{}, model.Action{Instruction: "one"}))
	ev := newEvaluator(repo, time.Hour)
	ctx := context.Background()

	ec, err := ev.GetContext(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, "one", ec.CombinedInstruction)

	_, err = repo.CreateGuideline(ctx, gl("b", 0, model.Condition{}, model.Action{Instruction: "two"}))
	require.NoError(t, err)
	ec, err = ev.GetContext(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, "one", ec.CombinedInstruction, "cached set is reused")

	ev.InvalidateCache()
	ec, err = ev.GetContext(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, "one\n\ntwo", ec.CombinedInstruction)
	assert.Equal(t, 2, repo.ListCalls())
}

func TestCache_StaleOnFetchFailure(t *testing.T) {
	repo := testutil.NewMemoryRepository(gl("a", 1, model.Condition{}, model.Action{Instruction: "cached"}))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := newEvaluator(repo, time.Second, evaluator.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := ev.GetContext(ctx, backend)
	require.NoError(t, err)

	repo.SetListErr(&storage.RepositoryError{Op: "list_guidelines", Err: errors.New("down")})
	now = now.Add(time.Hour)
	ec, err := ev.GetContext(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, "cached", ec.CombinedInstruction)
	assert.Equal(t, 2, repo.ListCalls())
}

func TestCache_FailureWithoutCachePropagates(t *testing.T) {
	repo := testutil.NewMemoryRepository()
	cause := &storage.RepositoryError{Op: "list_guidelines", Err: errors.New("down")}
	repo.SetListErr(cause)

	for _, ttl := range []time.Duration{0, time.Minute} {
		_, err := newEvaluator(repo, ttl).GetContext(context.Background(), backend)
		var re *storage.RepositoryError
		require.ErrorAs(t, err, &re)
	}
}

func TestCache_InvalidateDropsStaleFallback(t *testing.T) {
	repo := testutil.NewMemoryRepository(gl("a", 1, model.Condition{}, model.Action{}))
	ev := newEvaluator(repo, time.Minute)
	ctx := context.Background()

	_, err := ev.GetContext(ctx, backend)
	require.NoError(t, err)
	ev.InvalidateCache()
	repo.SetListErr(errors.New("down"))

	_, err = ev.GetContext(ctx, backend)
	assert.Error(t, err)
}

func TestCache_PartialPageStillEvaluates(t *testing.T) {
	repo := testutil.NewMemoryRepository(gl("a", 1, model.Condition{}, model.Action{Instruction: "a"}))
	repo.ReportedTotal = 5
	ec, err := newEvaluator(repo, 0).GetContext(context.Background(), backend)
	require.NoError(t, err)
	assert.Equal(t, "a", ec.CombinedInstruction)
}

// blockingRepository holds ListGuidelines until release is closed.
type blockingRepository struct {
	*testutil.MemoryRepository
	release chan struct{}
	calls   atomic.Int32
}

func (r *blockingRepository) ListGuidelines(ctx context.Context, f storage.GuidelineFilter) ([]model.Guideline, int, error) {
	r.calls.Add(1)
	<-r.release
	return r.MemoryRepository.ListGuidelines(ctx, f)
}

func TestCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	repo := &blockingRepository{
		MemoryRepository: testutil.NewMemoryRepository(gl("a", 1, model.Condition{}, model.Action{Instruction: "a"})),
		release:          make(chan struct{}),
	}
	ev := newEvaluator(repo, time.Minute)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ec, err := ev.GetContext(context.Background(), backend)
			if err == nil {
				results[i] = ec.CombinedInstruction
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(repo.release)
	wg.Wait()

	assert.Equal(t, int32(1), repo.calls.Load())
	for _, r := range results {
		assert.Equal(t, "a", r)
	}
}

func TestCache_CallerDeadlineHonored(t *testing.T) {
	repo := &blockingRepository{
		MemoryRepository: testutil.NewMemoryRepository(),
		release:          make(chan struct{}),
	}
	defer close(repo.release)
	ev := newEvaluator(repo, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ev.GetContext(ctx, backend)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCache_CallerDeadlineServesStale(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	repo := &gatedRepository{
		MemoryRepository: testutil.NewMemoryRepository(gl("a", 1, model.Condition{}, model.Action{Instruction: "a"})),
		release:          release,
	}
	now := time.Unix(1000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	ev := newEvaluator(repo, time.Minute, evaluator.WithClock(clock))

	ec, err := ev.GetContext(context.Background(), backend)
	require.NoError(t, err)
	require.Equal(t, "a", ec.CombinedInstruction)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	repo.block.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	ec, err = ev.GetContext(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, "a", ec.CombinedInstruction)
}

func TestCache_CallerDeadlineAfterInvalidate(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	repo := &gatedRepository{
		MemoryRepository: testutil.NewMemoryRepository(gl("a", 1, model.Condition{}, model.Action{Instruction: "a"})),
		release:          release,
	}
	ev := newEvaluator(repo, time.Minute)

	_, err := ev.GetContext(context.Background(), backend)
	require.NoError(t, err)
	ev.InvalidateCache()
	repo.block.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ev.GetContext(ctx, backend)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// gatedRepository answers normally until block is set, then holds
// ListGuidelines until release is closed.
type gatedRepository struct {
	*testutil.MemoryRepository
	release chan struct{}
	block   atomic.Bool
}

func (r *gatedRepository) ListGuidelines(ctx context.Context, f storage.GuidelineFilter) ([]model.Guideline, int, error) {
	if r.block.Load() {
		<-r.release
	}
	return r.MemoryRepository.ListGuidelines(ctx, f)
}

// ---- decisions -----------------------------------------------------------

func TestLogDecision(t *testing.T) {
	repo := testutil.NewMemoryRepository()
	ev := newEvaluator(repo, 0)

	id, err := ev.LogDecision(context.Background(), model.GateDecision{
		GuidelineID:  "hitl-1",
		GateType:     "deploy",
		Result:       model.GateApproved,
		Reason:       "looks good",
		UserResponse: "y",
		Context:      &model.TaskContext{Agent: "devops", Domain: "P06", SessionID: "s1", TenantID: "acme"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	audit := repo.Audit()
	require.Len(t, audit, 1)
	e, err := model.AuditEntryFromMap(audit[0])
	require.NoError(t, err)
	assert.Equal(t, id, e.ID)
	assert.Equal(t, model.EventGateDecision, e.EventType)
	assert.Equal(t, "hitl-1", e.GuidelineID)
	assert.Equal(t, "acme", e.TenantID)
	require.NotNil(t, e.Decision)
	assert.Equal(t, model.GateApproved, e.Decision.Result)
	require.NotNil(t, e.Context)
	assert.Equal(t, "devops", e.Context.Agent)
	assert.False(t, e.Timestamp.IsZero())
}

func TestLogDecision_Errors(t *testing.T) {
	repo := testutil.NewMemoryRepository()
	ev := newEvaluator(repo, 0)

	_, err := ev.LogDecision(context.Background(), model.GateDecision{GateType: "x", Result: model.GateSkipped})
	assert.True(t, model.IsValidation(err))

	repo.AuditErr = errors.New("audit down")
	_, err = ev.LogDecision(context.Background(), model.GateDecision{GuidelineID: "g", GateType: "x", Result: model.GateSkipped})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "evaluator: log decision"))
}
