package server

import (
	"context"
	"net/http"
	"time"

	"github.com/jb-612/dox-asdlc-sub004/internal/ctxutil"
	"github.com/jb-612/dox-asdlc-sub004/internal/model"
)

const auditWriteTimeout = 5 * time.Second

// recordGuidelineAudit appends the audit entries for a guideline mutation
// that already succeeded: one entry per changed field, or a single entry
// when changes is empty. Failures are logged and never fail the request.
func (h *Handlers) recordGuidelineAudit(r *http.Request, eventType, guidelineID string, changes []model.AuditChange) {
	// The mutation is done; a client disconnect must not drop its record.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditWriteTimeout)
	defer cancel()

	base := model.AuditEntry{
		EventType:   eventType,
		GuidelineID: guidelineID,
		Actor:       ctxutil.Actor(r.Context()),
	}
	entries := []model.AuditEntry{base}
	if len(changes) > 0 {
		entries = entries[:0]
		for i := range changes {
			e := base
			e.Changes = &changes[i]
			entries = append(entries, e)
		}
	}

	for _, e := range entries {
		if _, err := h.repo.LogAuditEntry(ctx, e.ToMap()); err != nil {
			h.logger.Error("http: audit write failed",
				"event_type", eventType,
				"guideline_id", guidelineID,
				"request_id", ctxutil.RequestIDFromContext(r.Context()),
				"error", err,
			)
			return
		}
	}
}
