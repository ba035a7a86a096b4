package model

import (
	"encoding/json"
	"slices"
)

// TaskContext describes the situation an agent is in when it asks which
// guidelines apply. Agent is required; every other field is optional and
// an empty value means "unset".
type TaskContext struct {
	Agent     string
	Domain    string
	Action    string
	Paths     []string
	Event     string
	GateType  string
	TenantID  string
	SessionID string
	Metadata  map[string]any
}

// Validate reports whether tc carries the required agent.
func (tc TaskContext) Validate() error {
	if tc.Agent == "" {
		return invalid("agent", "is required")
	}
	return nil
}

// Value returns the scalar the given condition field is matched against.
func (tc TaskContext) Value(field string) string {
	switch field {
	case FieldAgents:
		return tc.Agent
	case FieldDomains:
		return tc.Domain
	case FieldActions:
		return tc.Action
	case FieldEvents:
		return tc.Event
	case FieldGateTypes:
		return tc.GateType
	}
	return ""
}

// ToMap returns the wire form of tc. Agent is always emitted.
func (tc TaskContext) ToMap() map[string]any {
	m := map[string]any{"agent": tc.Agent}
	putString(m, "domain", tc.Domain)
	putString(m, "action", tc.Action)
	putStrings(m, "paths", tc.Paths)
	putString(m, "event", tc.Event)
	putString(m, "gate_type", tc.GateType)
	putString(m, "tenant_id", tc.TenantID)
	putString(m, "session_id", tc.SessionID)
	putMap(m, "metadata", tc.Metadata)
	return m
}

// TaskContextFromMap parses and validates a task context.
func TaskContextFromMap(m map[string]any) (TaskContext, error) {
	return taskContextFromMap(m, "")
}

func taskContextFromMap(m map[string]any, prefix string) (TaskContext, error) {
	var (
		tc  TaskContext
		err error
	)
	scalars := []struct {
		key string
		dst *string
	}{
		{"agent", &tc.Agent},
		{"domain", &tc.Domain},
		{"action", &tc.Action},
		{"event", &tc.Event},
		{"gate_type", &tc.GateType},
		{"tenant_id", &tc.TenantID},
		{"session_id", &tc.SessionID},
	}
	for _, s := range scalars {
		if *s.dst, err = readString(m, s.key, prefix+s.key); err != nil {
			return TaskContext{}, err
		}
	}
	if tc.Paths, err = readStrings(m, "paths", prefix+"paths"); err != nil {
		return TaskContext{}, err
	}
	if tc.Metadata, err = readMap(m, "metadata", prefix+"metadata"); err != nil {
		return TaskContext{}, err
	}
	if tc.Agent == "" {
		return TaskContext{}, invalid(prefix+"agent", "is required")
	}
	return tc, nil
}

func (tc TaskContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(tc.ToMap())
}

func (tc *TaskContext) UnmarshalJSON(data []byte) error {
	m, err := DecodeMap(data)
	if err != nil {
		return err
	}
	parsed, err := TaskContextFromMap(m)
	if err != nil {
		return err
	}
	*tc = parsed
	return nil
}

// EvaluatedGuideline is a guideline that matched a TaskContext.
type EvaluatedGuideline struct {
	Guideline Guideline
	// MatchScore is the fraction of non-wildcard condition fields that
	// matched, in [0,1]. Unconditional guidelines score 1.
	MatchScore float64
	// MatchedFields lists contributing condition fields in evaluation order.
	MatchedFields []string
}

func (eg EvaluatedGuideline) ToMap() map[string]any {
	fields := slices.Clone(eg.MatchedFields)
	if fields == nil {
		fields = []string{}
	}
	return map[string]any{
		"guideline":      eg.Guideline.ToMap(),
		"match_score":    eg.MatchScore,
		"matched_fields": fields,
	}
}

// EvaluatedGuidelineFromMap parses an evaluated guideline.
func EvaluatedGuidelineFromMap(m map[string]any) (EvaluatedGuideline, error) {
	var (
		eg  EvaluatedGuideline
		err error
	)
	gm, ok, err := readObject(m, "guideline", "guideline")
	if err != nil {
		return EvaluatedGuideline{}, err
	}
	if !ok {
		return EvaluatedGuideline{}, invalid("guideline", "is required")
	}
	if eg.Guideline, err = GuidelineFromMap(gm); err != nil {
		return EvaluatedGuideline{}, err
	}
	if eg.MatchScore, err = readFloat(m, "match_score", "match_score"); err != nil {
		return EvaluatedGuideline{}, err
	}
	if eg.MatchScore < 0 || eg.MatchScore > 1 {
		return EvaluatedGuideline{}, invalid("match_score", "must be within [0,1], got %v", eg.MatchScore)
	}
	if eg.MatchedFields, err = readStrings(m, "matched_fields", "matched_fields"); err != nil {
		return EvaluatedGuideline{}, err
	}
	return eg, nil
}

// EvaluatedContext is the merged effect of every guideline that matched
// one TaskContext.
type EvaluatedContext struct {
	Context             TaskContext
	MatchedGuidelines   []EvaluatedGuideline
	CombinedInstruction string
	ToolsAllowed        []string
	ToolsDenied         []string
	HITLGates           []string
}

// EmptyEvaluatedContext is the result of evaluating tc against no guidelines.
func EmptyEvaluatedContext(tc TaskContext) EvaluatedContext {
	return EvaluatedContext{Context: tc}
}

// ToMap returns the wire form of ec. Collections are always emitted so
// consumers can rely on their presence.
func (ec EvaluatedContext) ToMap() map[string]any {
	matched := make([]any, 0, len(ec.MatchedGuidelines))
	for _, eg := range ec.MatchedGuidelines {
		matched = append(matched, eg.ToMap())
	}
	return map[string]any{
		"context":              ec.Context.ToMap(),
		"matched_guidelines":   matched,
		"combined_instruction": ec.CombinedInstruction,
		"tools_allowed":        orEmpty(ec.ToolsAllowed),
		"tools_denied":         orEmpty(ec.ToolsDenied),
		"hitl_gates":           orEmpty(ec.HITLGates),
	}
}

// EvaluatedContextFromMap parses an evaluated context.
func EvaluatedContextFromMap(m map[string]any) (EvaluatedContext, error) {
	var (
		ec  EvaluatedContext
		err error
	)
	cm, ok, err := readObject(m, "context", "context")
	if err != nil {
		return EvaluatedContext{}, err
	}
	if !ok {
		return EvaluatedContext{}, invalid("context", "is required")
	}
	if ec.Context, err = taskContextFromMap(cm, "context."); err != nil {
		return EvaluatedContext{}, err
	}

	switch raw := m["matched_guidelines"].(type) {
	case nil:
	case []any:
		for i, item := range raw {
			im, ok := item.(map[string]any)
			if !ok {
				return EvaluatedContext{}, invalid("matched_guidelines", "element %d: expected object, got %T", i, item)
			}
			eg, err := EvaluatedGuidelineFromMap(im)
			if err != nil {
				return EvaluatedContext{}, err
			}
			ec.MatchedGuidelines = append(ec.MatchedGuidelines, eg)
		}
	case []map[string]any:
		for _, im := range raw {
			eg, err := EvaluatedGuidelineFromMap(im)
			if err != nil {
				return EvaluatedContext{}, err
			}
			ec.MatchedGuidelines = append(ec.MatchedGuidelines, eg)
		}
	default:
		return EvaluatedContext{}, invalid("matched_guidelines", "expected list, got %T", raw)
	}

	if ec.CombinedInstruction, err = readString(m, "combined_instruction", "combined_instruction"); err != nil {
		return EvaluatedContext{}, err
	}
	if ec.ToolsAllowed, err = readStrings(m, "tools_allowed", "tools_allowed"); err != nil {
		return EvaluatedContext{}, err
	}
	if ec.ToolsDenied, err = readStrings(m, "tools_denied", "tools_denied"); err != nil {
		return EvaluatedContext{}, err
	}
	if ec.HITLGates, err = readStrings(m, "hitl_gates", "hitl_gates"); err != nil {
		return EvaluatedContext{}, err
	}
	return ec, nil
}

func (ec EvaluatedContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(ec.ToMap())
}

func (ec *EvaluatedContext) UnmarshalJSON(data []byte) error {
	m, err := DecodeMap(data)
	if err != nil {
		return err
	}
	parsed, err := EvaluatedContextFromMap(m)
	if err != nil {
		return err
	}
	*ec = parsed
	return nil
}

// GateDecision records a human decision on a hitl_gate guideline.
type GateDecision struct {
	GuidelineID  string
	GateType     string
	Result       GateResult
	Reason       string
	UserResponse string
	Context      *TaskContext
}

// Validate checks the fields an audit record needs.
func (d GateDecision) Validate() error {
	if d.GuidelineID == "" {
		return invalid("guideline_id", "is required")
	}
	if d.GateType == "" {
		return invalid("gate_type", "is required")
	}
	if !validEnum(d.Result, GateResults) {
		return invalid("result", "unknown value %q", d.Result)
	}
	if d.Context != nil {
		return d.Context.Validate()
	}
	return nil
}

func (d GateDecision) ToMap() map[string]any {
	m := map[string]any{
		"guideline_id": d.GuidelineID,
		"gate_type":    d.GateType,
		"result":       string(d.Result),
	}
	putString(m, "reason", d.Reason)
	putString(m, "user_response", d.UserResponse)
	if d.Context != nil {
		m["context"] = d.Context.ToMap()
	}
	return m
}

// GateDecisionFromMap parses and validates a gate decision.
func GateDecisionFromMap(m map[string]any) (GateDecision, error) {
	var (
		d   GateDecision
		err error
	)
	if d.GuidelineID, err = readString(m, "guideline_id", "guideline_id"); err != nil {
		return GateDecision{}, err
	}
	if d.GateType, err = readString(m, "gate_type", "gate_type"); err != nil {
		return GateDecision{}, err
	}
	rawResult, err := readString(m, "result", "result")
	if err != nil {
		return GateDecision{}, err
	}
	if d.Result, err = ParseGateResult(rawResult); err != nil {
		return GateDecision{}, err
	}
	if d.Reason, err = readString(m, "reason", "reason"); err != nil {
		return GateDecision{}, err
	}
	if d.UserResponse, err = readString(m, "user_response", "user_response"); err != nil {
		return GateDecision{}, err
	}
	cm, ok, err := readObject(m, "context", "context")
	if err != nil {
		return GateDecision{}, err
	}
	if ok {
		tc, err := taskContextFromMap(cm, "context.")
		if err != nil {
			return GateDecision{}, err
		}
		d.Context = &tc
	}
	if err := d.Validate(); err != nil {
		return GateDecision{}, err
	}
	return d, nil
}

func (d GateDecision) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.ToMap())
}

func (d *GateDecision) UnmarshalJSON(data []byte) error {
	m, err := DecodeMap(data)
	if err != nil {
		return err
	}
	parsed, err := GateDecisionFromMap(m)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}
