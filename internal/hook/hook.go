// Package hook runs one evaluation for an agent-side hook: a TaskContext as
// JSON on the input, an EvaluatedContext as JSON on the output.
//
// The hook fails open. Unreadable input, an invalid context, an unreachable
// backend or a timeout all produce an empty EvaluatedContext for whatever
// context could be read, so the calling agent is never blocked by guideline
// governance being unavailable. Diagnostics go to the logger only; the
// output stream carries nothing but the result document.
package hook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
)

// Default limits.
const (
	DefaultTimeout  = 5 * time.Second
	DefaultMaxInput = 1 << 20
)

// Evaluator resolves a task context.
type Evaluator interface {
	GetContext(ctx context.Context, tc model.TaskContext) (model.EvaluatedContext, error)
}

// Runner holds the hook's dependencies.
type Runner struct {
	evaluator Evaluator
	logger    *slog.Logger
	timeout   time.Duration
	maxInput  int64
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds the whole evaluation.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxInput caps how many bytes of input are read.
func WithMaxInput(n int64) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxInput = n
		}
	}
}

// New returns a Runner evaluating with e.
func New(e Evaluator, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		evaluator: e,
		logger:    logger,
		timeout:   DefaultTimeout,
		maxInput:  DefaultMaxInput,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reads a TaskContext from in and writes the EvaluatedContext to out.
// The only error it returns is a failure to write the result.
func (r *Runner) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	tc, err := r.readContext(in)
	if err != nil {
		r.logger.Warn("hook: unusable input, returning empty context", "error", err)
		return writeResult(out, model.EmptyEvaluatedContext(tc))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ec, err := r.evaluator.GetContext(ctx, tc)
	if err != nil {
		r.logger.Warn("hook: evaluation failed, returning empty context",
			"agent", tc.Agent,
			"timeout", errors.Is(err, context.DeadlineExceeded),
			"error", err,
		)
		return writeResult(out, model.EmptyEvaluatedContext(tc))
	}
	r.logger.Debug("hook: evaluated", "agent", tc.Agent, "matched", len(ec.MatchedGuidelines))
	return writeResult(out, ec)
}

// readContext parses the input. When the document is an object but fails
// validation, the returned context still carries whatever string fields
// could be read so the empty result echoes them.
func (r *Runner) readContext(in io.Reader) (model.TaskContext, error) {
	data, err := io.ReadAll(io.LimitReader(in, r.maxInput+1))
	if err != nil {
		return model.TaskContext{}, fmt.Errorf("read input: %w", err)
	}
	if int64(len(data)) > r.maxInput {
		return model.TaskContext{}, fmt.Errorf("input exceeds %d bytes", r.maxInput)
	}
	m, err := model.DecodeMap(data)
	if err != nil {
		return model.TaskContext{}, err
	}
	tc, err := model.TaskContextFromMap(m)
	if err != nil {
		return partialContext(m), err
	}
	return tc, nil
}

func partialContext(m map[string]any) model.TaskContext {
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	return model.TaskContext{
		Agent:     str("agent"),
		Domain:    str("domain"),
		Action:    str("action"),
		Event:     str("event"),
		GateType:  str("gate_type"),
		TenantID:  str("tenant_id"),
		SessionID: str("session_id"),
	}
}

func writeResult(out io.Writer, ec model.EvaluatedContext) error {
	enc := json.NewEncoder(out)
	if err := enc.Encode(ec); err != nil {
		return fmt.Errorf("hook: write result: %w", err)
	}
	return nil
}
