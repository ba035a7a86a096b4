package model

import (
	"encoding/json"
	"slices"
	"time"
)

// Priority bounds. Higher priority wins when guidelines are merged.
const (
	MinPriority     = 0
	MaxPriority     = 1000
	DefaultPriority = 100
)

// Condition field names in the fixed evaluation order. Paths is evaluated
// last because it is the only list-to-list match.
const (
	FieldAgents    = "agents"
	FieldDomains   = "domains"
	FieldActions   = "actions"
	FieldEvents    = "events"
	FieldGateTypes = "gate_types"
	FieldPaths     = "paths"
)

// Condition selects the task contexts a guideline applies to. An empty list
// is a wildcard; a non-empty list matches when the context's value is any of
// its elements. All non-wildcard fields must match.
type Condition struct {
	Agents    []string
	Domains   []string
	Actions   []string
	Paths     []string
	Events    []string
	GateTypes []string
	// Custom is carried through storage untouched and never used for matching.
	Custom map[string]any
}

// Field returns the list for the named condition field, or nil for an
// unknown name.
func (c Condition) Field(name string) []string {
	switch name {
	case FieldAgents:
		return c.Agents
	case FieldDomains:
		return c.Domains
	case FieldActions:
		return c.Actions
	case FieldEvents:
		return c.Events
	case FieldGateTypes:
		return c.GateTypes
	case FieldPaths:
		return c.Paths
	}
	return nil
}

// NonWildcardFields returns the number of fields that constrain matching.
func (c Condition) NonWildcardFields() int {
	n := 0
	for _, f := range [][]string{c.Agents, c.Domains, c.Actions, c.Events, c.GateTypes, c.Paths} {
		if len(f) > 0 {
			n++
		}
	}
	return n
}

// ToMap returns the wire form of c. Wildcard fields are omitted.
func (c Condition) ToMap() map[string]any {
	m := map[string]any{}
	putStrings(m, FieldAgents, c.Agents)
	putStrings(m, FieldDomains, c.Domains)
	putStrings(m, FieldActions, c.Actions)
	putStrings(m, FieldPaths, c.Paths)
	putStrings(m, FieldEvents, c.Events)
	putStrings(m, FieldGateTypes, c.GateTypes)
	putMap(m, "custom", c.Custom)
	return m
}

// ConditionFromMap parses the wire form of a Condition.
func ConditionFromMap(m map[string]any) (Condition, error) {
	return conditionFromMap(m, "condition.")
}

func conditionFromMap(m map[string]any, prefix string) (Condition, error) {
	var (
		c   Condition
		err error
	)
	lists := []struct {
		key string
		dst *[]string
	}{
		{FieldAgents, &c.Agents},
		{FieldDomains, &c.Domains},
		{FieldActions, &c.Actions},
		{FieldPaths, &c.Paths},
		{FieldEvents, &c.Events},
		{FieldGateTypes, &c.GateTypes},
	}
	for _, l := range lists {
		if *l.dst, err = readStrings(m, l.key, prefix+l.key); err != nil {
			return Condition{}, err
		}
	}
	if c.Custom, err = readMap(m, "custom", prefix+"custom"); err != nil {
		return Condition{}, err
	}
	return c, nil
}

// Action is what a matching guideline contributes to the evaluated context.
type Action struct {
	Type          ActionType
	Instruction   string
	ToolsAllowed  []string
	ToolsDenied   []string
	GateType      string
	GateThreshold string
	MaxFiles      *int
	RequireTests  bool
	RequireReview bool
	Parameters    map[string]any
}

// ToMap returns the wire form of a.
func (a Action) ToMap() map[string]any {
	m := map[string]any{"type": string(a.Type)}
	putString(m, "instruction", a.Instruction)
	putStrings(m, "tools_allowed", a.ToolsAllowed)
	putStrings(m, "tools_denied", a.ToolsDenied)
	putString(m, "gate_type", a.GateType)
	putString(m, "gate_threshold", a.GateThreshold)
	if a.MaxFiles != nil {
		m["max_files"] = *a.MaxFiles
	}
	if a.RequireTests {
		m["require_tests"] = true
	}
	if a.RequireReview {
		m["require_review"] = true
	}
	putMap(m, "parameters", a.Parameters)
	return m
}

// ActionFromMap parses the wire form of an Action. A missing type defaults
// to instruction.
func ActionFromMap(m map[string]any) (Action, error) {
	return actionFromMap(m, "action.")
}

func actionFromMap(m map[string]any, prefix string) (Action, error) {
	var (
		a   Action
		err error
	)
	rawType, err := readString(m, "type", prefix+"type")
	if err != nil {
		return Action{}, err
	}
	a.Type = ActionInstruction
	if rawType != "" {
		if a.Type, err = parseEnum(prefix+"type", rawType, ActionTypes); err != nil {
			return Action{}, err
		}
	}
	if a.Instruction, err = readString(m, "instruction", prefix+"instruction"); err != nil {
		return Action{}, err
	}
	if a.ToolsAllowed, err = readStrings(m, "tools_allowed", prefix+"tools_allowed"); err != nil {
		return Action{}, err
	}
	if a.ToolsDenied, err = readStrings(m, "tools_denied", prefix+"tools_denied"); err != nil {
		return Action{}, err
	}
	if a.GateType, err = readString(m, "gate_type", prefix+"gate_type"); err != nil {
		return Action{}, err
	}
	if a.GateThreshold, err = readString(m, "gate_threshold", prefix+"gate_threshold"); err != nil {
		return Action{}, err
	}
	if a.MaxFiles, err = readOptInt(m, "max_files", prefix+"max_files"); err != nil {
		return Action{}, err
	}
	if a.RequireTests, err = readBool(m, "require_tests", prefix+"require_tests", false); err != nil {
		return Action{}, err
	}
	if a.RequireReview, err = readBool(m, "require_review", prefix+"require_review", false); err != nil {
		return Action{}, err
	}
	if a.Parameters, err = readMap(m, "parameters", prefix+"parameters"); err != nil {
		return Action{}, err
	}
	return a, nil
}

// Guideline is a stored policy rule. Values are treated as immutable: the
// repository returns new values rather than mutating the ones it is given.
type Guideline struct {
	ID          string
	Name        string
	Description string
	Enabled     bool
	Category    Category
	Priority    int
	Condition   Condition
	Action      Action
	Metadata    map[string]any
	// Version is the optimistic-concurrency token. It starts at 1 and only a
	// successful repository update advances it, always by exactly one.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy string
}

// Validate checks the invariants every stored guideline must hold.
func (g Guideline) Validate() error {
	if g.ID == "" {
		return invalid("id", "must not be empty")
	}
	if g.Name == "" {
		return invalid("name", "must not be empty")
	}
	if !validEnum(g.Category, Categories) {
		return invalid("category", "unknown value %q", g.Category)
	}
	if g.Priority < MinPriority || g.Priority > MaxPriority {
		return invalid("priority", "must be between %d and %d, got %d", MinPriority, MaxPriority, g.Priority)
	}
	if !validEnum(g.Action.Type, ActionTypes) {
		return invalid("action.type", "unknown value %q", g.Action.Type)
	}
	if g.Action.MaxFiles != nil && *g.Action.MaxFiles < 0 {
		return invalid("action.max_files", "must not be negative")
	}
	if g.Version < 1 {
		return invalid("version", "must be at least 1, got %d", g.Version)
	}
	return nil
}

// Normalize returns g with empty collections collapsed to nil and
// timestamps in UTC, the shape produced by GuidelineFromMap.
func (g Guideline) Normalize() Guideline {
	c := &g.Condition
	c.Agents, c.Domains, c.Actions = nilIfEmpty(c.Agents), nilIfEmpty(c.Domains), nilIfEmpty(c.Actions)
	c.Paths, c.Events, c.GateTypes = nilIfEmpty(c.Paths), nilIfEmpty(c.Events), nilIfEmpty(c.GateTypes)
	c.Custom = nilIfEmptyMap(c.Custom)
	g.Action.ToolsAllowed = nilIfEmpty(g.Action.ToolsAllowed)
	g.Action.ToolsDenied = nilIfEmpty(g.Action.ToolsDenied)
	g.Action.Parameters = nilIfEmptyMap(g.Action.Parameters)
	g.Metadata = nilIfEmptyMap(g.Metadata)
	if !g.CreatedAt.IsZero() {
		g.CreatedAt = g.CreatedAt.UTC()
	}
	if !g.UpdatedAt.IsZero() {
		g.UpdatedAt = g.UpdatedAt.UTC()
	}
	return g
}

// Clone returns a deep copy of g. Edits to the copy's slices, maps and
// MaxFiles never reach g.
func (g Guideline) Clone() Guideline {
	c := &g.Condition
	c.Agents, c.Domains, c.Actions = slices.Clone(c.Agents), slices.Clone(c.Domains), slices.Clone(c.Actions)
	c.Paths, c.Events, c.GateTypes = slices.Clone(c.Paths), slices.Clone(c.Events), slices.Clone(c.GateTypes)
	c.Custom = cloneMap(c.Custom)
	a := &g.Action
	a.ToolsAllowed, a.ToolsDenied = slices.Clone(a.ToolsAllowed), slices.Clone(a.ToolsDenied)
	a.Parameters = cloneMap(a.Parameters)
	if a.MaxFiles != nil {
		n := *a.MaxFiles
		a.MaxFiles = &n
	}
	g.Metadata = cloneMap(g.Metadata)
	return g
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	}
	return v
}

// ToMap returns the document form of g.
func (g Guideline) ToMap() map[string]any {
	m := map[string]any{
		"id":          g.ID,
		"name":        g.Name,
		"description": g.Description,
		"enabled":     g.Enabled,
		"category":    string(g.Category),
		"priority":    g.Priority,
		"condition":   g.Condition.ToMap(),
		"action":      g.Action.ToMap(),
		"version":     g.Version,
	}
	putMap(m, "metadata", g.Metadata)
	putTime(m, "created_at", g.CreatedAt)
	putTime(m, "updated_at", g.UpdatedAt)
	putString(m, "created_by", g.CreatedBy)
	return m
}

// GuidelineFromMap parses and validates a guideline document. Missing
// enabled defaults to true, priority to DefaultPriority, version to 1.
func GuidelineFromMap(m map[string]any) (Guideline, error) {
	var (
		g   Guideline
		err error
	)
	if g.ID, err = readString(m, "id", "id"); err != nil {
		return Guideline{}, err
	}
	if g.Name, err = readString(m, "name", "name"); err != nil {
		return Guideline{}, err
	}
	if g.Description, err = readString(m, "description", "description"); err != nil {
		return Guideline{}, err
	}
	if g.Enabled, err = readBool(m, "enabled", "enabled", true); err != nil {
		return Guideline{}, err
	}
	rawCategory, err := readString(m, "category", "category")
	if err != nil {
		return Guideline{}, err
	}
	if rawCategory == "" {
		return Guideline{}, invalid("category", "is required")
	}
	if g.Category, err = ParseCategory(rawCategory); err != nil {
		return Guideline{}, err
	}
	if g.Priority, err = readInt(m, "priority", "priority", DefaultPriority); err != nil {
		return Guideline{}, err
	}

	condMap, _, err := readObject(m, "condition", "condition")
	if err != nil {
		return Guideline{}, err
	}
	if g.Condition, err = conditionFromMap(condMap, "condition."); err != nil {
		return Guideline{}, err
	}
	actionMap, _, err := readObject(m, "action", "action")
	if err != nil {
		return Guideline{}, err
	}
	if g.Action, err = actionFromMap(actionMap, "action."); err != nil {
		return Guideline{}, err
	}

	if g.Metadata, err = readMap(m, "metadata", "metadata"); err != nil {
		return Guideline{}, err
	}
	if g.Version, err = readInt(m, "version", "version", 1); err != nil {
		return Guideline{}, err
	}
	if g.CreatedAt, err = readTime(m, "created_at", "created_at"); err != nil {
		return Guideline{}, err
	}
	if g.UpdatedAt, err = readTime(m, "updated_at", "updated_at"); err != nil {
		return Guideline{}, err
	}
	if g.CreatedBy, err = readString(m, "created_by", "created_by"); err != nil {
		return Guideline{}, err
	}
	if err := g.Validate(); err != nil {
		return Guideline{}, err
	}
	return g, nil
}

// MarshalJSON encodes g in its document form.
func (g Guideline) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.ToMap())
}

// UnmarshalJSON decodes and validates a guideline document.
func (g *Guideline) UnmarshalJSON(data []byte) error {
	m, err := DecodeMap(data)
	if err != nil {
		return err
	}
	parsed, err := GuidelineFromMap(m)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
