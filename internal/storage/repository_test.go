package storage_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
	"github.com/jb-612/dox-asdlc-sub004/internal/testutil"
)

func TestGuidelineFilter_Normalize(t *testing.T) {
	f := storage.GuidelineFilter{Page: 0, PageSize: 0}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, storage.DefaultGuidelinePageSize, f.PageSize)
	assert.Equal(t, 40, storage.GuidelineFilter{Page: 3}.Offset())

	a := storage.AuditFilter{Page: -2}.Normalize()
	assert.Equal(t, 1, a.Page)
	assert.Equal(t, storage.DefaultAuditPageSize, a.PageSize)
	assert.Equal(t, 50, storage.AuditFilter{Page: 2}.Offset())
}

func TestFilterGuidelines_OrderAndPages(t *testing.T) {
	var all []model.Guideline
	for i, p := range []int{5, 9, 5, 1, 9} {
		g := guideline(fmt.Sprintf("f%d", i), p)
		g.Name = fmt.Sprintf("n%d", 4-i)
		all = append(all, g)
	}

	var ids []string
	seen := map[string]bool{}
	for page := 1; page <= 3; page++ {
		gs, total := storage.FilterGuidelines(all, storage.GuidelineFilter{Page: page, PageSize: 2})
		assert.Equal(t, 5, total)
		for _, g := range gs {
			assert.False(t, seen[g.ID])
			seen[g.ID] = true
			ids = append(ids, g.ID)
		}
	}
	// priority 9: f4 (n0), f1 (n3); priority 5: f2 (n2), f0 (n4); then f3.
	assert.Equal(t, []string{"f4", "f1", "f2", "f0", "f3"}, ids)
	assert.Equal(t, "f0", all[0].ID, "input must not be reordered")

	gs, total := storage.FilterGuidelines(all, storage.GuidelineFilter{Page: 9, PageSize: 2})
	assert.Empty(t, gs)
	assert.Equal(t, 5, total)
}

func TestErrorTaxonomy(t *testing.T) {
	nf := fmt.Errorf("wrapped: %w", &storage.GuidelineNotFoundError{ID: "a"})
	assert.True(t, storage.IsNotFound(nf))
	assert.False(t, storage.IsConflict(nf))
	assert.ErrorIs(t, nf, storage.ErrNotFound)

	ce := &storage.GuidelineConflictError{ID: "a", Expected: 1, Actual: 3}
	assert.True(t, storage.IsConflict(ce))
	assert.Contains(t, ce.Error(), "expected 1, actual 3")

	cause := errors.New("connection refused")
	re := &storage.RepositoryError{Op: "get_guideline", Err: cause}
	assert.ErrorIs(t, re, cause)
	assert.False(t, storage.IsNotFound(re))
	assert.Equal(t, "storage: get_guideline: connection refused", re.Error())
}

func TestValidateIndexPrefix(t *testing.T) {
	for _, ok := range []string{"", "a", "Team_1-x"} {
		assert.NoError(t, storage.ValidateIndexPrefix(ok), ok)
	}
	for _, bad := range []string{" ", "a/b", "a*", "tenant'1"} {
		err := storage.ValidateIndexPrefix(bad)
		var ve *model.ValidationError
		require.ErrorAs(t, err, &ve, bad)
		assert.Equal(t, "index_prefix", ve.Field)
	}
	assert.Equal(t, "guidelines", storage.IndexName("", storage.GuidelinesIndex))
	assert.Equal(t, "t1_guidelines_audit", storage.IndexName("t1", storage.AuditIndex))
}

// racingRepository bumps the stored version behind the caller's back the
// first n times UpdateGuideline is called.
type racingRepository struct {
	*testutil.MemoryRepository
	races int
}

func (r *racingRepository) UpdateGuideline(ctx context.Context, g model.Guideline) (model.Guideline, error) {
	if r.races > 0 {
		r.races--
		cur, err := r.MemoryRepository.GetGuideline(ctx, g.ID)
		if err != nil {
			return model.Guideline{}, err
		}
		if _, err := r.MemoryRepository.UpdateGuideline(ctx, cur); err != nil {
			return model.Guideline{}, err
		}
	}
	return r.MemoryRepository.UpdateGuideline(ctx, g)
}

func TestUpdateWithRetry(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepository{MemoryRepository: testutil.NewMemoryRepository(), races: 2}
	_, err := repo.CreateGuideline(ctx, guideline("r1", 100))
	require.NoError(t, err)

	before, after, err := storage.UpdateWithRetry(ctx, repo, "r1", 3, 0, func(g *model.Guideline) error {
		g.Enabled = !g.Enabled
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, before.Version)
	assert.Equal(t, 4, after.Version)
	assert.False(t, after.Enabled)
}

func TestUpdateWithRetry_MutateInPlaceKeepsBefore(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewMemoryRepository(guideline("r4", 100))

	before, after, err := storage.UpdateWithRetry(ctx, repo, "r4", 3, 0, func(g *model.Guideline) error {
		g.Condition.Agents[0] = "frontend"
		g.Metadata["source"] = "edited"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"backend"}, before.Condition.Agents)
	assert.Equal(t, "test", before.Metadata["source"])
	assert.Equal(t, []string{"frontend"}, after.Condition.Agents)

	changes := model.GuidelineChanges(before, after)
	fields := make([]string, 0, len(changes))
	for _, c := range changes {
		fields = append(fields, c.Field)
	}
	assert.ElementsMatch(t, []string{"condition", "metadata"}, fields)
}

func TestUpdateWithRetry_GivesUp(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepository{MemoryRepository: testutil.NewMemoryRepository(), races: 5}
	_, err := repo.CreateGuideline(ctx, guideline("r2", 100))
	require.NoError(t, err)

	_, _, err = storage.UpdateWithRetry(ctx, repo, "r2", 1, 0, func(*model.Guideline) error { return nil })
	assert.True(t, storage.IsConflict(err))
}

func TestUpdateWithRetry_MutateError(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewMemoryRepository(guideline("r3", 100))
	boom := errors.New("boom")
	_, _, err := storage.UpdateWithRetry(ctx, repo, "r3", 3, 0, func(*model.Guideline) error { return boom })
	assert.ErrorIs(t, err, boom)

	_, _, err = storage.UpdateWithRetry(ctx, repo, "missing", 3, 0, func(*model.Guideline) error { return nil })
	assert.True(t, storage.IsNotFound(err))
}
