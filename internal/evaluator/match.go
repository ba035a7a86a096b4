package evaluator

import (
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
)

// scalarFields are the single-valued context fields, in evaluation order.
// Paths is matched after them.
var scalarFields = []string{
	model.FieldAgents,
	model.FieldDomains,
	model.FieldActions,
	model.FieldEvents,
	model.FieldGateTypes,
}

// ConditionMatches reports whether c selects tc and which fields
// contributed, in evaluation order. Every non-wildcard field must match; a
// field matches when the context value is one of the listed values. A
// non-wildcard field whose context value is unset fails the condition.
func ConditionMatches(c model.Condition, tc model.TaskContext) (bool, []string) {
	var matched []string
	for _, field := range scalarFields {
		want := c.Field(field)
		if len(want) == 0 {
			continue
		}
		got := tc.Value(field)
		if got == "" || !slices.Contains(want, got) {
			return false, nil
		}
		matched = append(matched, field)
	}
	if len(c.Paths) > 0 {
		if !PathsMatch(c.Paths, tc.Paths) {
			return false, nil
		}
		matched = append(matched, model.FieldPaths)
	}
	return true, matched
}

// PathsMatch reports whether any path matches any pattern. Patterns use
// shell glob syntax: '*' and '?' stay within a segment and '**' spans
// segments. Patterns and paths containing a ".." segment are dropped before
// matching, and if that leaves either side empty nothing matches.
// Backslashes are treated as separators.
func PathsMatch(patterns, paths []string) bool {
	pats := cleanPaths(patterns)
	ps := cleanPaths(paths)
	if len(pats) == 0 || len(ps) == 0 {
		return false
	}
	for _, p := range ps {
		for _, pat := range pats {
			// A malformed pattern never matches.
			if ok, err := doublestar.Match(pat, p); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func cleanPaths(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p == "" || HasTraversal(p) {
			continue
		}
		out = append(out, strings.ReplaceAll(p, `\`, "/"))
	}
	return out
}

// HasTraversal reports whether p has a ".." segment, splitting on both
// '/' and '\'.
func HasTraversal(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}
