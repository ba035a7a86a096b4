package evaluator_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jb-612/dox-asdlc-sub004/internal/evaluator"
	"github.com/jb-612/dox-asdlc-sub004/internal/model"
)

func TestConditionMatches_Wildcard(t *testing.T) {
	contexts := []model.TaskContext{
		{Agent: "backend"},
		{Agent: "frontend", Domain: "P05", Paths: []string{"../etc/passwd"}},
		{Agent: "x", Event: "e", GateType: "g", Action: "a"},
	}
	for _, tc := range contexts {
		ok, fields := evaluator.ConditionMatches(model.Condition{Custom: map[string]any{"ignored": true}}, tc)
		assert.True(t, ok)
		assert.Empty(t, fields)
	}
}

func TestConditionMatches_AgentMismatch(t *testing.T) {
	c := model.Condition{Agents: []string{"backend"}, Domains: []string{"P01"}}
	ok, fields := evaluator.ConditionMatches(c, model.TaskContext{Agent: "frontend", Domain: "P01"})
	assert.False(t, ok)
	assert.Empty(t, fields)
}

func TestConditionMatches_OrWithinField(t *testing.T) {
	c := model.Condition{Agents: []string{"backend", "frontend"}}
	ok, fields := evaluator.ConditionMatches(c, model.TaskContext{Agent: "frontend"})
	assert.True(t, ok)
	assert.Equal(t, []string{"agents"}, fields)
}

func TestConditionMatches_UnsetContextFieldFails(t *testing.T) {
	c := model.Condition{Events: []string{"pre_commit"}}
	ok, _ := evaluator.ConditionMatches(c, model.TaskContext{Agent: "backend"})
	assert.False(t, ok)

	c = model.Condition{Paths: []string{"src/*"}}
	ok, _ = evaluator.ConditionMatches(c, model.TaskContext{Agent: "backend"})
	assert.False(t, ok)
}

func TestConditionMatches_FieldOrder(t *testing.T) {
	c := model.Condition{
		Paths:     []string{"src/**"},
		GateTypes: []string{"review"},
		Events:    []string{"pre_commit"},
		Actions:   []string{"commit"},
		Domains:   []string{"P01"},
		Agents:    []string{"backend"},
	}
	tc := model.TaskContext{
		Agent: "backend", Domain: "P01", Action: "commit", Event: "pre_commit", GateType: "review",
		Paths: []string{"src/a/b/c.go"},
	}
	ok, fields := evaluator.ConditionMatches(c, tc)
	assert.True(t, ok)
	assert.Equal(t, []string{"agents", "domains", "actions", "events", "gate_types", "paths"}, fields)
	assert.Equal(t, 1.0, evaluator.MatchScore(c, fields))
}

func TestPathsMatch(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		paths    []string
		want     bool
	}{
		{"single segment star", []string{"src/workers/*"}, []string{"src/workers/x.py"}, true},
		{"other directory", []string{"src/workers/*"}, []string{"src/other/x.py"}, false},
		{"any path matches", []string{"src/workers/*"}, []string{"docs/a.md", "src/workers/y.py"}, true},
		{"any pattern matches", []string{"docs/*", "src/**/*.go"}, []string{"src/a/b/c.go"}, true},
		{"star stays in segment", []string{"src/*"}, []string{"src/a/b.py"}, false},
		{"question mark", []string{"src/?.py"}, []string{"src/a.py"}, true},
		{"backslash path", []string{"src/workers/*"}, []string{`src\workers\x.py`}, true},
		{"traversal path excluded", []string{"src/workers/*"}, []string{"src/workers/../secret"}, false},
		{"traversal only path", []string{"**"}, []string{"../secret"}, false},
		{"traversal backslash", []string{"**"}, []string{`src\..\secret`}, false},
		{"traversal pattern excluded", []string{"../secret/*"}, []string{"secret/a"}, false},
		{"traversal pattern dropped, other used", []string{"../secret/*", "src/*"}, []string{"src/a"}, true},
		{"traversal path dropped, other used", []string{"src/*"}, []string{"../secret", "src/a"}, true},
		{"dots inside name allowed", []string{"src/*"}, []string{"src/a..b"}, true},
		{"no context paths", []string{"src/*"}, nil, false},
		{"malformed pattern", []string{"src/[a"}, []string{"src/a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluator.PathsMatch(tt.patterns, tt.paths))
		})
	}
}

func TestHasTraversal(t *testing.T) {
	assert.True(t, evaluator.HasTraversal("../secret"))
	assert.True(t, evaluator.HasTraversal(`a\..\b`))
	assert.True(t, evaluator.HasTraversal("a/.."))
	assert.False(t, evaluator.HasTraversal("a/.b/c"))
	assert.False(t, evaluator.HasTraversal("..."))
}

func TestMatchScore(t *testing.T) {
	assert.Equal(t, 1.0, evaluator.MatchScore(model.Condition{}, nil))
	c := model.Condition{Agents: []string{"a"}, Domains: []string{"d"}, Paths: []string{"p"}, Events: []string{"e"}}
	assert.Equal(t, 0.5, evaluator.MatchScore(c, []string{"agents", "domains"}))
	assert.Equal(t, 1.0, evaluator.MatchScore(c, []string{"agents", "domains", "events", "paths"}))
}

// ---- conflict resolution -------------------------------------------------

func eg(id string, priority int, a model.Action) model.EvaluatedGuideline {
	return model.EvaluatedGuideline{Guideline: gl(id, priority, model.Condition{}, a), MatchScore: 1}
}

func TestResolveConflicts_StableForEqualPriority(t *testing.T) {
	matched := []model.EvaluatedGuideline{
		eg("first", 500, model.Action{Instruction: "1"}),
		eg("low", 100, model.Action{Instruction: "L"}),
		eg("second", 500, model.Action{Instruction: "2"}),
		eg("top", 900, model.Action{Instruction: "T"}),
	}
	ec := evaluator.ResolveConflicts(matched, backend)
	var ids []string
	for _, m := range ec.MatchedGuidelines {
		ids = append(ids, m.Guideline.ID)
	}
	assert.Equal(t, []string{"top", "first", "second", "low"}, ids)
	assert.Equal(t, "T\n\n1\n\n2\n\nL", ec.CombinedInstruction)
	assert.Equal(t, "first", matched[0].Guideline.ID, "input is not reordered")
}

func TestResolveConflicts_SkipsEmptyInstructions(t *testing.T) {
	ec := evaluator.ResolveConflicts([]model.EvaluatedGuideline{
		eg("a", 3, model.Action{Instruction: "A"}),
		eg("b", 2, model.Action{Type: model.ActionToolRestriction, ToolsAllowed: []string{"z", "a", "z"}}),
		eg("c", 1, model.Action{Instruction: "C"}),
	}, backend)
	assert.Equal(t, "A\n\nC", ec.CombinedInstruction)
	assert.Equal(t, []string{"a", "z"}, ec.ToolsAllowed)
	assert.Nil(t, ec.ToolsDenied)
	assert.Nil(t, ec.HITLGates)
}

func TestResolveConflicts_TruncatesEachInstruction(t *testing.T) {
	long := strings.Repeat("é", evaluator.MaxInstructionChars+5)
	ec := evaluator.ResolveConflicts([]model.EvaluatedGuideline{eg("a", 1, model.Action{Instruction: long})}, backend)

	want := strings.Repeat("é", evaluator.MaxInstructionChars) + evaluator.TruncationMarker
	assert.Equal(t, want, ec.CombinedInstruction)
}

func TestResolveConflicts_ExactLimitNotTruncated(t *testing.T) {
	exact := strings.Repeat("x", evaluator.MaxInstructionChars)
	ec := evaluator.ResolveConflicts([]model.EvaluatedGuideline{eg("a", 1, model.Action{Instruction: exact})}, backend)
	assert.Equal(t, exact, ec.CombinedInstruction)
}

func TestResolveConflicts_TruncatesCombined(t *testing.T) {
	var matched []model.EvaluatedGuideline
	chunk := strings.Repeat("x", evaluator.MaxInstructionChars)
	for i := range 6 {
		matched = append(matched, eg(string(rune('a'+i)), 1, model.Action{Instruction: chunk}))
	}
	ec := evaluator.ResolveConflicts(matched, backend)

	assert.True(t, strings.HasSuffix(ec.CombinedInstruction, evaluator.TruncationMarker))
	body := strings.TrimSuffix(ec.CombinedInstruction, evaluator.TruncationMarker)
	assert.Equal(t, evaluator.MaxCombinedInstructionChars, len([]rune(body)))
}
