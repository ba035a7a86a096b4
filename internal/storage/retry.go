package storage

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
)

// Retry defaults for UpdateWithRetry callers.
const (
	DefaultUpdateRetries    = 3
	DefaultUpdateRetryDelay = 20 * time.Millisecond
)

// UpdateWithRetry reads guideline id, applies mutate to a deep copy and writes it
// back with UpdateGuideline. On a version conflict the read, mutate and
// write are repeated up to maxRetries more times, with jittered exponential
// backoff starting at baseDelay. It returns the guideline as read by the
// successful attempt and the stored result.
func UpdateWithRetry(
	ctx context.Context,
	repo Repository,
	id string,
	maxRetries int,
	baseDelay time.Duration,
	mutate func(g *model.Guideline) error,
) (model.Guideline, model.Guideline, error) {
	var err error
	for attempt := range maxRetries + 1 {
		var before, after model.Guideline
		before, err = repo.GetGuideline(ctx, id)
		if err != nil {
			return model.Guideline{}, model.Guideline{}, err
		}
		next := before.Clone()
		if err = mutate(&next); err != nil {
			return model.Guideline{}, model.Guideline{}, err
		}
		next.Version = before.Version
		after, err = repo.UpdateGuideline(ctx, next)
		if err == nil {
			return before, after, nil
		}
		if !IsConflict(err) || attempt == maxRetries {
			break
		}
		delay := baseDelay
		if delay > 0 {
			delay += time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		}
		select {
		case <-ctx.Done():
			return model.Guideline{}, model.Guideline{}, ctx.Err()
		case <-time.After(delay):
		}
		baseDelay *= 2
	}
	return model.Guideline{}, model.Guideline{}, err
}
