package hook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jb-612/dox-asdlc-sub004/internal/evaluator"
	"github.com/jb-612/dox-asdlc-sub004/internal/hook"
	"github.com/jb-612/dox-asdlc-sub004/internal/model"
	"github.com/jb-612/dox-asdlc-sub004/internal/testutil"
)

type output struct {
	Context             map[string]any   `json:"context"`
	MatchedGuidelines   []map[string]any `json:"matched_guidelines"`
	CombinedInstruction string           `json:"combined_instruction"`
	ToolsAllowed        []string         `json:"tools_allowed"`
	ToolsDenied         []string         `json:"tools_denied"`
	HITLGates           []string         `json:"hitl_gates"`
}

func run(t *testing.T, r *hook.Runner, input string) output {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, r.Run(context.Background(), strings.NewReader(input), &out))

	var o output
	require.NoError(t, json.Unmarshal(out.Bytes(), &o), out.String())
	return o
}

func assertEmpty(t *testing.T, o output) {
	t.Helper()
	assert.Empty(t, o.MatchedGuidelines)
	assert.Empty(t, o.CombinedInstruction)
	assert.NotNil(t, o.ToolsAllowed)
	assert.NotNil(t, o.ToolsDenied)
	assert.NotNil(t, o.HITLGates)
}

func TestRun_Evaluates(t *testing.T) {
	repo := testutil.NewMemoryRepository(
		testutil.Guideline("g", 500, model.Condition{Agents: []string{"backend"}},
			model.Action{Instruction: "Stay in scope.", ToolsDenied: []string{"Bash"}}),
	)
	r := hook.New(evaluator.New(repo, evaluator.Config{}, testutil.TestLogger()), testutil.TestLogger())

	o := run(t, r, `{"agent":"backend","paths":["src/main.go"]}`)
	require.Len(t, o.MatchedGuidelines, 1)
	assert.Equal(t, "Stay in scope.", o.CombinedInstruction)
	assert.Equal(t, []string{"Bash"}, o.ToolsDenied)
	assert.Equal(t, "backend", o.Context["agent"])
}

func TestRun_FailsOpen(t *testing.T) {
	logger := testutil.TestLogger()
	healthy := evaluator.New(testutil.NewMemoryRepository(), evaluator.Config{}, logger)

	tests := []struct {
		name      string
		input     string
		wantAgent any
	}{
		{"not json", `{agent`, ""},
		{"not an object", `["backend"]`, ""},
		{"empty", ``, ""},
		{"missing agent", `{"domain":"P01"}`, ""},
		{"wrong field type", `{"agent":"backend","paths":"src"}`, "backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := run(t, hook.New(healthy, logger), tt.input)
			assertEmpty(t, o)
			assert.Equal(t, tt.wantAgent, o.Context["agent"])
		})
	}
}

func TestRun_BackendDown(t *testing.T) {
	repo := testutil.NewMemoryRepository()
	repo.SetListErr(errors.New("connection refused"))
	r := hook.New(evaluator.New(repo, evaluator.Config{}, testutil.TestLogger()), testutil.TestLogger())

	o := run(t, r, `{"agent":"backend","session_id":"s-1"}`)
	assertEmpty(t, o)
	assert.Equal(t, "backend", o.Context["agent"])
	assert.Equal(t, "s-1", o.Context["session_id"])
}

type blockingEvaluator struct{}

func (blockingEvaluator) GetContext(ctx context.Context, _ model.TaskContext) (model.EvaluatedContext, error) {
	<-ctx.Done()
	return model.EvaluatedContext{}, ctx.Err()
}

func TestRun_Timeout(t *testing.T) {
	r := hook.New(blockingEvaluator{}, testutil.TestLogger(), hook.WithTimeout(20*time.Millisecond))

	start := time.Now()
	o := run(t, r, `{"agent":"backend"}`)
	assert.Less(t, time.Since(start), 2*time.Second)
	assertEmpty(t, o)
}

func TestRun_InputTooLarge(t *testing.T) {
	r := hook.New(blockingEvaluator{}, testutil.TestLogger(), hook.WithMaxInput(16))
	o := run(t, r, `{"agent":"backend","domain":"a-long-domain-name"}`)
	assertEmpty(t, o)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestRun_WriteError(t *testing.T) {
	r := hook.New(blockingEvaluator{}, testutil.TestLogger())
	err := r.Run(context.Background(), strings.NewReader(`{`), failingWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed pipe")
}
