package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jb-612/dox-asdlc-sub004/internal/auth"
	"github.com/jb-612/dox-asdlc-sub004/internal/model"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
)

// Evaluator is the evaluation surface the handlers need.
type Evaluator interface {
	GetContext(ctx context.Context, tc model.TaskContext) (model.EvaluatedContext, error)
	LogDecision(ctx context.Context, d model.GateDecision) (string, error)
	InvalidateCache()
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	evaluator           Evaluator
	repo                storage.Repository
	jwtMgr              *auth.JWTManager
	logger              *slog.Logger
	repositoryName      string
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): JWTMgr.
type HandlersDeps struct {
	Evaluator           Evaluator
	Repo                storage.Repository
	JWTMgr              *auth.JWTManager
	Logger              *slog.Logger
	RepositoryName      string
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		evaluator:           d.Evaluator,
		repo:                d.Repo,
		jwtMgr:              d.JWTMgr,
		logger:              d.Logger,
		repositoryName:      d.RepositoryName,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleGetContext handles POST /v1/context.
func (h *Handlers) HandleGetContext(w http.ResponseWriter, r *http.Request) {
	var tc model.TaskContext
	if err := decodeJSON(w, r, &tc, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	ec, err := h.evaluator.GetContext(r.Context(), tc)
	if err != nil {
		writeOpError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ec)
}

// HandleLogDecision handles POST /v1/decisions.
func (h *Handlers) HandleLogDecision(w http.ResponseWriter, r *http.Request) {
	var d model.GateDecision
	if err := decodeJSON(w, r, &d, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	id, err := h.evaluator.LogDecision(r.Context(), d)
	if err != nil {
		writeOpError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, model.DecisionResponse{ID: id})
}

// HandleInvalidateCache handles POST /v1/cache/invalidate.
func (h *Handlers) HandleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.evaluator.InvalidateCache()
	w.WriteHeader(http.StatusNoContent)
}

// HandleIssueToken handles POST /auth/token (admin-only).
func (h *Handlers) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req model.TokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	role := auth.Role(req.Role)
	if req.Subject == "" {
		writeErrorDetail(w, r, http.StatusBadRequest, model.ErrorDetail{
			Code: model.ErrCodeInvalidInput, Message: "is required", Field: "subject",
		})
		return
	}
	if !role.Valid() {
		writeErrorDetail(w, r, http.StatusBadRequest, model.ErrorDetail{
			Code: model.ErrCodeInvalidInput, Message: fmt.Sprintf("unknown role %q", req.Role), Field: "role",
		})
		return
	}
	token, expiresAt, err := h.jwtMgr.IssueToken(req.Subject, role)
	if err != nil {
		h.logger.Error("http: issue token", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}
	h.logger.Info("token issued", "subject", req.Subject, "role", role)
	writeJSON(w, r, http.StatusOK, model.TokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleHealth handles GET /health. Serving from the static fallback is
// reported as degraded; an unreachable repository as unhealthy.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK
	if h.repositoryName == "static" {
		status = "degraded"
	}
	if p, ok := h.repo.(storage.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:     status,
		Version:    h.version,
		Repository: h.repositoryName,
		Uptime:     int64(time.Since(h.startedAt).Seconds()),
	})
}

// --- Shared helpers ---

func queryInt(r *http.Request, key string, defaultVal int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &model.ValidationError{Field: key, Message: "must be an integer"}
	}
	return n, nil
}

func queryBool(r *http.Request, key string) (*bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, &model.ValidationError{Field: key, Message: "must be true or false"}
	}
	return &b, nil
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, &model.ValidationError{Field: key, Message: "expected RFC3339 format (e.g. 2024-01-01T00:00:00Z)"}
	}
	return &t, nil
}

// queryPage reads page and page_size, clamping page_size to maxPageSize.
func queryPage(r *http.Request) (page, pageSize int, err error) {
	if page, err = queryInt(r, "page", 1); err != nil {
		return 0, 0, err
	}
	if pageSize, err = queryInt(r, "page_size", 0); err != nil {
		return 0, 0, err
	}
	return page, min(pageSize, maxPageSize), nil
}

// maxPageSize bounds page_size on list endpoints.
const maxPageSize = 500
