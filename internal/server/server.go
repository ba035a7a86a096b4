package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jb-612/dox-asdlc-sub004/internal/auth"
	"github.com/jb-612/dox-asdlc-sub004/internal/ratelimit"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
)

// Server is the guidelines HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): JWTMgr, MCPServer, RateLimiter.
type ServerConfig struct {
	// Required dependencies.
	Evaluator Evaluator
	Repo      storage.Repository
	Logger    *slog.Logger

	// RepositoryName is reported by /health: "store" or "static".
	RepositoryName string

	// Optional dependencies (nil = disabled). A nil JWTMgr turns off
	// authentication and role checks.
	JWTMgr    *auth.JWTManager
	MCPServer *mcpserver.MCPServer

	// RateLimiter bounds requests per caller. Nil disables rate limiting.
	RateLimiter ratelimit.Limiter

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Evaluator:           cfg.Evaluator,
		Repo:                cfg.Repo,
		JWTMgr:              cfg.JWTMgr,
		Logger:              cfg.Logger,
		RepositoryName:      cfg.RepositoryName,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	authOn := cfg.JWTMgr != nil
	readRole := requireRole(authOn, auth.RoleReader)
	writeRole := requireRole(authOn, auth.RoleEditor)
	adminOnly := requireRole(authOn, auth.RoleAdmin)

	mux := http.NewServeMux()

	// Evaluation (reader+).
	mux.Handle("POST /v1/context", readRole(http.HandlerFunc(h.HandleGetContext)))
	mux.Handle("POST /v1/decisions", readRole(http.HandlerFunc(h.HandleLogDecision)))

	// Guideline reads (reader+).
	mux.Handle("GET /v1/guidelines", readRole(http.HandlerFunc(h.HandleListGuidelines)))
	mux.Handle("GET /v1/guidelines/{id}", readRole(http.HandlerFunc(h.HandleGetGuideline)))
	mux.Handle("GET /v1/audit", readRole(http.HandlerFunc(h.HandleListAudit)))

	// Guideline authoring (editor+).
	mux.Handle("POST /v1/guidelines", writeRole(http.HandlerFunc(h.HandleCreateGuideline)))
	mux.Handle("PUT /v1/guidelines/{id}", writeRole(http.HandlerFunc(h.HandleUpdateGuideline)))
	mux.Handle("DELETE /v1/guidelines/{id}", writeRole(http.HandlerFunc(h.HandleDeleteGuideline)))
	mux.Handle("POST /v1/guidelines/{id}/toggle", writeRole(http.HandlerFunc(h.HandleToggleGuideline)))
	mux.Handle("POST /v1/cache/invalidate", writeRole(http.HandlerFunc(h.HandleInvalidateCache)))

	// Token issuance (admin-only, needs auth enabled).
	if authOn {
		mux.Handle("POST /auth/token", adminOnly(http.HandlerFunc(h.HandleIssueToken)))
	}

	// MCP StreamableHTTP transport (reader+).
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", readRole(mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → rate limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	if cfg.RateLimiter != nil {
		handler = rateLimitMiddleware(cfg.RateLimiter, cfg.Logger, handler)
	}
	if authOn {
		handler = authMiddleware(cfg.JWTMgr, handler)
	}
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(newHTTPMetrics(), handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
