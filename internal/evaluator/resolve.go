package evaluator

import (
	"cmp"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
)

// Instruction limits, in characters.
const (
	MaxInstructionChars         = 10_000
	MaxCombinedInstructionChars = 50_000
)

// TruncationMarker is appended to an instruction that was cut short.
const TruncationMarker = "\n...[truncated]"

const instructionSeparator = "\n\n"

// MatchScore is the fraction of c's non-wildcard fields that appear in
// matched. An unconditional guideline scores 1.
func MatchScore(c model.Condition, matched []string) float64 {
	n := c.NonWildcardFields()
	if n == 0 {
		return 1
	}
	return float64(len(matched)) / float64(n)
}

// ResolveConflicts merges matched guidelines into one EvaluatedContext.
// Guidelines are ordered by priority descending; equal priorities keep
// their input order. Instructions are concatenated in that order, tool
// lists are unioned, and a tool denied by any guideline is never allowed.
func ResolveConflicts(matched []model.EvaluatedGuideline, tc model.TaskContext) model.EvaluatedContext {
	sorted := slices.Clone(matched)
	slices.SortStableFunc(sorted, func(a, b model.EvaluatedGuideline) int {
		return cmp.Compare(b.Guideline.Priority, a.Guideline.Priority)
	})

	var (
		instructions []string
		allowed      = map[string]struct{}{}
		denied       = map[string]struct{}{}
		gates        = map[string]struct{}{}
	)
	for _, eg := range sorted {
		a := eg.Guideline.Action
		if a.Instruction != "" {
			instructions = append(instructions, truncate(a.Instruction, MaxInstructionChars))
		}
		for _, t := range a.ToolsAllowed {
			allowed[t] = struct{}{}
		}
		for _, t := range a.ToolsDenied {
			denied[t] = struct{}{}
		}
		if a.GateType != "" {
			gates[a.GateType] = struct{}{}
		}
	}
	for t := range denied {
		delete(allowed, t)
	}

	ec := model.EvaluatedContext{
		Context:             tc,
		CombinedInstruction: truncate(strings.Join(instructions, instructionSeparator), MaxCombinedInstructionChars),
		ToolsAllowed:        sortedSet(allowed),
		ToolsDenied:         sortedSet(denied),
		HITLGates:           sortedSet(gates),
	}
	if len(sorted) > 0 {
		ec.MatchedGuidelines = sorted
	}
	return ec
}

// truncate cuts s to limit characters and appends TruncationMarker when
// anything was removed.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + TruncationMarker
		}
		n++
	}
	return s
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(set))
}
