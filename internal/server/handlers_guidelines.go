package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jb-612/dox-asdlc-sub004/internal/ctxutil"
	"github.com/jb-612/dox-asdlc-sub004/internal/model"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
)

// HandleListGuidelines handles GET /v1/guidelines.
// Query: category, enabled, page, page_size.
func (h *Handlers) HandleListGuidelines(w http.ResponseWriter, r *http.Request) {
	f, err := guidelineFilter(r)
	if err != nil {
		writeOpError(w, r, h.logger, err)
		return
	}
	gs, total, err := h.repo.ListGuidelines(r.Context(), f)
	if err != nil {
		writeOpError(w, r, h.logger, err)
		return
	}
	if gs == nil {
		gs = []model.Guideline{}
	}
	f = f.Normalize()
	writeList(w, r, gs, len(gs), total, f.Page, f.PageSize)
}

func guidelineFilter(r *http.Request) (storage.GuidelineFilter, error) {
	var f storage.GuidelineFilter
	var err error
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, err := model.ParseCategory(raw)
		if err != nil {
			return f, err
		}
		f.Category = &c
	}
	if f.Enabled, err = queryBool(r, "enabled"); err != nil {
		return f, err
	}
	if f.Page, f.PageSize, err = queryPage(r); err != nil {
		return f, err
	}
	return f, nil
}

// HandleGetGuideline handles GET /v1/guidelines/{id}.
func (h *Handlers) HandleGetGuideline(w http.ResponseWriter, r *http.Request) {
	g, err := h.repo.GetGuideline(r.Context(), r.PathValue("id"))
	if err != nil {
		writeOpError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, g)
}

// HandleCreateGuideline handles POST /v1/guidelines. A missing id is
// generated and created_by defaults to the caller. An existing guideline
// with the same id is replaced.
func (h *Handlers) HandleCreateGuideline(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeMap(w, r, h.maxRequestBodyBytes)
	if err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if id, _ := doc["id"].(string); id == "" {
		doc["id"] = uuid.NewString()
	}
	if by, _ := doc["created_by"].(string); by == "" {
		doc["created_by"] = ctxutil.Actor(r.Context())
	}
	g, err := model.GuidelineFromMap(doc)
	if err != nil {
		writeOpError(w, r, h.logger, err)
		return
	}
	created, err := h.repo.CreateGuideline(r.Context(), g)
	if err != nil {
		writeOpError(w, r, h.logger, err)
		return
	}
	h.evaluator.InvalidateCache()
	h.recordGuidelineAudit(r, model.EventGuidelineCreated, created.ID, nil)
	writeJSON(w, r, http.StatusCreated, created)
}

// HandleUpdateGuideline handles PUT /v1/guidelines/{id}. The body is the
// full guideline and its version must equal the stored version.
func (h *Handlers) HandleUpdateGuideline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := decodeMap(w, r, h.maxRequestBodyBytes)
	if err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if bodyID, _ := doc["id"].(string); bodyID != "" && bodyID != id {
		writeOpError(w, r, h.logger, &model.ValidationError{Field: "id", Message: "does not match the path"})
		return
	}
	if _, ok := doc["version"]; !ok {
		writeOpError(w, r, h.logger, &model.ValidationError{Field: "version", Message: "is required for updates"})
		return
	}
	doc["id"] = id
	g, err := model.GuidelineFromMap(doc)
	if err != nil {
		writeOpError(w, r, h.logger, err)
		return
	}

	before, err := h.repo.GetGuideline(r.Context(), id)
	if err != nil {
		writeOpError(w, r, h.logger, err)
		return
	}
	// The audit diff is taken against before, so it must be the exact
	// version the compare-and-swap replaces.
	if before.Version != g.Version {
		writeOpError(w, r, h.logger, &storage.GuidelineConflictError{ID: id, Expected: g.Version, Actual: before.Version})
		return
	}
	after, err := h.repo.UpdateGuideline(r.Context(), g)
	if err != nil {
		writeOpError(w, r, h.logger, err)
		return
	}
	h.evaluator.InvalidateCache()
	h.recordGuidelineAudit(r, model.EventGuidelineUpdated, id, model.GuidelineChanges(before, after))
	writeJSON(w, r, http.StatusOK, after)
}

// HandleToggleGuideline handles POST /v1/guidelines/{id}/toggle. With no
// enabled field the current state is flipped. Concurrent edits are retried.
func (h *Handlers) HandleToggleGuideline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, err := readBody(w, r, h.maxRequestBodyBytes)
	if err != nil {
		handleDecodeError(w, r, err)
		return
	}
	var req model.ToggleRequest
	if strings.TrimSpace(string(body)) != "" {
		if err := json.Unmarshal(body, &req); err != nil {
			handleDecodeError(w, r, err)
			return
		}
	}

	before, after, err := storage.UpdateWithRetry(r.Context(), h.repo, id,
		storage.DefaultUpdateRetries, storage.DefaultUpdateRetryDelay,
		func(g *model.Guideline) error {
			if req.Enabled != nil {
				g.Enabled = *req.Enabled
			} else {
				g.Enabled = !g.Enabled
			}
			return nil
		},
	)
	if err != nil {
		writeOpError(w, r, h.logger, err)
		return
	}
	h.evaluator.InvalidateCache()
	h.recordGuidelineAudit(r, model.EventGuidelineUpdated, id, model.GuidelineChanges(before, after))
	writeJSON(w, r, http.StatusOK, after)
}

// HandleDeleteGuideline handles DELETE /v1/guidelines/{id}.
func (h *Handlers) HandleDeleteGuideline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := h.repo.DeleteGuideline(r.Context(), id)
	if err != nil {
		writeOpError(w, r, h.logger, err)
		return
	}
	h.evaluator.InvalidateCache()
	h.recordGuidelineAudit(r, model.EventGuidelineDeleted, id, nil)
	writeJSON(w, r, http.StatusOK, model.DeleteResponse{ID: id, Deleted: deleted})
}

// HandleListAudit handles GET /v1/audit.
// Query: guideline_id, event_type, date_from, date_to, page, page_size.
func (h *Handlers) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		writeOpError(w, r, h.logger, err)
		return
	}
	entries, total, err := h.repo.ListAuditEntries(r.Context(), f)
	if err != nil {
		writeOpError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []map[string]any{}
	}
	f = f.Normalize()
	writeList(w, r, entries, len(entries), total, f.Page, f.PageSize)
}

func auditFilter(r *http.Request) (storage.AuditFilter, error) {
	q := r.URL.Query()
	f := storage.AuditFilter{
		GuidelineID: q.Get("guideline_id"),
		EventType:   q.Get("event_type"),
	}
	from, err := queryTime(r, "date_from")
	if err != nil {
		return f, err
	}
	to, err := queryTime(r, "date_to")
	if err != nil {
		return f, err
	}
	if from != nil {
		f.DateFrom = *from
	}
	if to != nil {
		f.DateTo = *to
	}
	if from != nil && to != nil && to.Before(*from) {
		return f, &model.ValidationError{Field: "date_to", Message: "must not be before date_from"}
	}
	if f.Page, f.PageSize, err = queryPage(r); err != nil {
		return f, err
	}
	return f, nil
}
