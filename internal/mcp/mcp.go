// Package mcp implements the Model Context Protocol server for guidelines.
//
// The MCP server exposes the evaluation and read operations of the HTTP API
// as MCP tools and resources, so MCP-compatible agents can ask which
// guidelines apply before acting and record gate decisions afterwards.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
)

// Evaluator is the evaluation surface the tools need.
type Evaluator interface {
	GetContext(ctx context.Context, tc model.TaskContext) (model.EvaluatedContext, error)
	LogDecision(ctx context.Context, d model.GateDecision) (string, error)
}

// Server wraps the MCP server with the evaluator and repository.
type Server struct {
	mcpServer *mcpserver.MCPServer
	evaluator Evaluator
	repo      storage.Repository
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(evaluator Evaluator, repo storage.Repository, logger *slog.Logger, version string) *Server {
	s := &Server{
		evaluator: evaluator,
		repo:      repo,
		logger:    logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"guidelines",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions("Call guidelines_get_context before acting to learn which guidelines apply, "+
			"and guidelines_log_decision after a human answers a gate."),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// jsonResult renders v as the text content of a successful tool call.
func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// opErrorResult describes an evaluator or repository failure to the agent.
// Validation and not-found errors are the caller's to fix; anything else is
// logged.
func (s *Server) opErrorResult(op string, err error) *mcplib.CallToolResult {
	switch {
	case model.IsValidation(err), storage.IsNotFound(err):
		return errorResult(err.Error())
	default:
		s.logger.Error("mcp: tool failed", "tool", op, "error", err)
		return errorResult(fmt.Sprintf("%s failed: guideline backend unavailable", op))
	}
}
