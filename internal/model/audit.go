package model

import (
	"reflect"
	"slices"
	"time"
)

// Audit event types.
const (
	EventGateDecision     = "gate_decision"
	EventGuidelineCreated = "guideline_created"
	EventGuidelineUpdated = "guideline_updated"
	EventGuidelineDeleted = "guideline_deleted"
)

// AuditDecision is the decision part of a gate_decision audit entry.
type AuditDecision struct {
	Result       GateResult
	Reason       string
	UserResponse string
}

// AuditContext is the subset of a TaskContext kept in the audit log.
type AuditContext struct {
	Agent     string
	Domain    string
	Action    string
	SessionID string
}

// AuditChange records one field of a guideline changing value.
type AuditChange struct {
	Field    string
	OldValue any
	NewValue any
}

// AuditEntry is the typed form of an audit log record. The repository
// stores and returns entries as maps; AuditEntry builds and reads them.
type AuditEntry struct {
	ID          string
	EventType   string
	Timestamp   time.Time
	GuidelineID string
	Decision    *AuditDecision
	Context     *AuditContext
	Changes     *AuditChange
	Actor       string
	TenantID    string
}

// NewGateDecisionEntry builds the audit entry for d. ID and timestamp are
// left for the repository to assign.
func NewGateDecisionEntry(d GateDecision) AuditEntry {
	e := AuditEntry{
		EventType:   EventGateDecision,
		GuidelineID: d.GuidelineID,
		Decision: &AuditDecision{
			Result:       d.Result,
			Reason:       d.Reason,
			UserResponse: d.UserResponse,
		},
	}
	if d.Context != nil {
		e.Context = &AuditContext{
			Agent:     d.Context.Agent,
			Domain:    d.Context.Domain,
			Action:    d.Context.Action,
			SessionID: d.Context.SessionID,
		}
		e.TenantID = d.Context.TenantID
	}
	return e
}

// GuidelineChanges lists the document fields that differ between before
// and after, in document key order. Bookkeeping fields (version and
// timestamps) are ignored.
func GuidelineChanges(before, after Guideline) []AuditChange {
	bm, am := before.ToMap(), after.ToMap()
	keys := make([]string, 0, len(bm)+len(am))
	for k := range bm {
		keys = append(keys, k)
	}
	for k := range am {
		if _, ok := bm[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var changes []AuditChange
	for _, k := range keys {
		switch k {
		case "version", "created_at", "updated_at":
			continue
		}
		if !reflect.DeepEqual(bm[k], am[k]) {
			changes = append(changes, AuditChange{Field: k, OldValue: bm[k], NewValue: am[k]})
		}
	}
	return changes
}

// ToMap returns the stored form of e. Empty optional parts are omitted.
func (e AuditEntry) ToMap() map[string]any {
	m := map[string]any{}
	putString(m, "id", e.ID)
	putString(m, "event_type", e.EventType)
	putTime(m, "timestamp", e.Timestamp)
	putString(m, "guideline_id", e.GuidelineID)
	if e.Decision != nil {
		dm := map[string]any{"result": string(e.Decision.Result)}
		putString(dm, "reason", e.Decision.Reason)
		putString(dm, "user_response", e.Decision.UserResponse)
		m["decision"] = dm
	}
	if e.Context != nil {
		cm := map[string]any{}
		putString(cm, "agent", e.Context.Agent)
		putString(cm, "domain", e.Context.Domain)
		putString(cm, "action", e.Context.Action)
		putString(cm, "session_id", e.Context.SessionID)
		m["context"] = cm
	}
	if e.Changes != nil {
		m["changes"] = map[string]any{
			"field":     e.Changes.Field,
			"old_value": e.Changes.OldValue,
			"new_value": e.Changes.NewValue,
		}
	}
	putString(m, "actor", e.Actor)
	putString(m, "tenant_id", e.TenantID)
	return m
}

// AuditEntryFromMap parses a stored audit entry.
func AuditEntryFromMap(m map[string]any) (AuditEntry, error) {
	var (
		e   AuditEntry
		err error
	)
	for _, s := range []struct {
		key string
		dst *string
	}{
		{"id", &e.ID},
		{"event_type", &e.EventType},
		{"guideline_id", &e.GuidelineID},
		{"actor", &e.Actor},
		{"tenant_id", &e.TenantID},
	} {
		if *s.dst, err = readString(m, s.key, s.key); err != nil {
			return AuditEntry{}, err
		}
	}
	if e.Timestamp, err = readTime(m, "timestamp", "timestamp"); err != nil {
		return AuditEntry{}, err
	}

	dm, ok, err := readObject(m, "decision", "decision")
	if err != nil {
		return AuditEntry{}, err
	}
	if ok {
		var d AuditDecision
		raw, err := readString(dm, "result", "decision.result")
		if err != nil {
			return AuditEntry{}, err
		}
		if d.Result, err = parseEnum("decision.result", raw, GateResults); err != nil {
			return AuditEntry{}, err
		}
		if d.Reason, err = readString(dm, "reason", "decision.reason"); err != nil {
			return AuditEntry{}, err
		}
		if d.UserResponse, err = readString(dm, "user_response", "decision.user_response"); err != nil {
			return AuditEntry{}, err
		}
		e.Decision = &d
	}

	cm, ok, err := readObject(m, "context", "context")
	if err != nil {
		return AuditEntry{}, err
	}
	if ok {
		var c AuditContext
		for _, s := range []struct {
			key string
			dst *string
		}{
			{"agent", &c.Agent},
			{"domain", &c.Domain},
			{"action", &c.Action},
			{"session_id", &c.SessionID},
		} {
			if *s.dst, err = readString(cm, s.key, "context."+s.key); err != nil {
				return AuditEntry{}, err
			}
		}
		e.Context = &c
	}

	chm, ok, err := readObject(m, "changes", "changes")
	if err != nil {
		return AuditEntry{}, err
	}
	if ok {
		field, err := readString(chm, "field", "changes.field")
		if err != nil {
			return AuditEntry{}, err
		}
		e.Changes = &AuditChange{Field: field, OldValue: chm["old_value"], NewValue: chm["new_value"]}
	}
	return e, nil
}
