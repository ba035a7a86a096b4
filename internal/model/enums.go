package model

import (
	"fmt"
	"strings"
)

// Category groups guidelines by the concern they govern.
type Category string

const (
	CategoryCognitiveIsolation Category = "cognitive_isolation"
	CategoryHITLGate           Category = "hitl_gate"
	CategoryTDDProtocol        Category = "tdd_protocol"
	CategoryContextConstraint  Category = "context_constraint"
	CategoryAuditTelemetry     Category = "audit_telemetry"
	CategorySecurity           Category = "security"
	CategoryCustom             Category = "custom"
)

// Categories lists every Category in declaration order.
var Categories = []Category{
	CategoryCognitiveIsolation,
	CategoryHITLGate,
	CategoryTDDProtocol,
	CategoryContextConstraint,
	CategoryAuditTelemetry,
	CategorySecurity,
	CategoryCustom,
}

// ParseCategory accepts a canonical value ("hitl_gate") or a member name in
// any case ("HITL_GATE").
func ParseCategory(s string) (Category, error) {
	return parseEnum("category", s, Categories)
}

// ActionType is the effect a matching guideline has.
type ActionType string

const (
	ActionInstruction     ActionType = "instruction"
	ActionToolRestriction ActionType = "tool_restriction"
	ActionHITLGate        ActionType = "hitl_gate"
	ActionConstraint      ActionType = "constraint"
	ActionTelemetry       ActionType = "telemetry"
)

// ActionTypes lists every ActionType in declaration order.
var ActionTypes = []ActionType{
	ActionInstruction,
	ActionToolRestriction,
	ActionHITLGate,
	ActionConstraint,
	ActionTelemetry,
}

// ParseActionType accepts a canonical value or a member name in any case.
func ParseActionType(s string) (ActionType, error) {
	return parseEnum("action.type", s, ActionTypes)
}

// GateResult is the outcome of a human approval gate.
type GateResult string

const (
	GateApproved GateResult = "approved"
	GateRejected GateResult = "rejected"
	GateSkipped  GateResult = "skipped"
)

// GateResults lists every GateResult in declaration order.
var GateResults = []GateResult{GateApproved, GateRejected, GateSkipped}

// ParseGateResult accepts a canonical value or a member name in any case.
func ParseGateResult(s string) (GateResult, error) {
	return parseEnum("result", s, GateResults)
}

// memberName is the upper-snake name of an enum member. Every enum in this
// package names its members after their value.
func memberName[T ~string](v T) string {
	return strings.ToUpper(string(v))
}

func parseEnum[T ~string](field, raw string, members []T) (T, error) {
	for _, m := range members {
		if string(m) == raw {
			return m, nil
		}
	}
	for _, m := range members {
		if strings.EqualFold(memberName(m), raw) {
			return m, nil
		}
	}
	var zero T
	return zero, &ValidationError{Field: field, Message: fmt.Sprintf("unknown value %q", raw)}
}

func validEnum[T ~string](v T, members []T) bool {
	for _, m := range members {
		if m == v {
			return true
		}
	}
	return false
}
