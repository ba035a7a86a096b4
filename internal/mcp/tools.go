package mcp

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
)

func (s *Server) registerTools() {
	// guidelines_get_context: evaluate a task context.
	s.mcpServer.AddTool(
		mcplib.NewTool("guidelines_get_context",
			mcplib.WithDescription(`Get the guidelines that apply to what you are about to do.

WHEN TO USE: Before acting. Describe who you are and what you are doing;
the result merges every matching guideline by priority.

WHAT YOU GET BACK:
- combined_instruction: instructions to follow, highest priority first
- tools_allowed / tools_denied: tool restrictions (denied always wins)
- hitl_gates: gates that need a human decision before you proceed
- matched_guidelines: the guidelines that matched and why`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent", mcplib.Description("Your agent role, e.g. backend"), mcplib.Required()),
			mcplib.WithString("domain", mcplib.Description("Domain you are working in")),
			mcplib.WithString("action", mcplib.Description("What you are doing, e.g. implement, review, commit")),
			mcplib.WithArray("paths", mcplib.Description("Files you will touch"), mcplib.WithStringItems()),
			mcplib.WithString("event", mcplib.Description("Lifecycle event, e.g. pre_commit")),
			mcplib.WithString("gate_type", mcplib.Description("Gate being evaluated, if any")),
			mcplib.WithString("session_id", mcplib.Description("Session identifier")),
			mcplib.WithString("tenant_id", mcplib.Description("Tenant identifier")),
		),
		s.handleGetContext,
	)

	// guidelines_log_decision: record a human gate decision.
	s.mcpServer.AddTool(
		mcplib.NewTool("guidelines_log_decision",
			mcplib.WithDescription(`Record the human decision on a gate to the audit log.

WHEN TO USE: After a hitl_gate from guidelines_get_context was answered.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("guideline_id", mcplib.Description("Guideline that required the gate"), mcplib.Required()),
			mcplib.WithString("gate_type", mcplib.Description("Gate type"), mcplib.Required()),
			mcplib.WithString("result", mcplib.Description("Outcome of the gate"),
				mcplib.Required(),
				mcplib.Enum(gateResults()...),
			),
			mcplib.WithString("reason", mcplib.Description("Why the human decided this way")),
			mcplib.WithString("user_response", mcplib.Description("The human's answer, verbatim")),
			mcplib.WithObject("context", mcplib.Description("The task context the gate was raised for")),
		),
		s.handleLogDecision,
	)

	// guidelines_list: page through stored guidelines.
	s.mcpServer.AddTool(
		mcplib.NewTool("guidelines_list",
			mcplib.WithDescription("List stored guidelines ordered by priority (highest first), then name."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("category", mcplib.Description("Only this category"), mcplib.Enum(categories()...)),
			mcplib.WithBoolean("enabled", mcplib.Description("Only enabled (true) or disabled (false) guidelines")),
			mcplib.WithNumber("page", mcplib.Description("1-based page number"), mcplib.Min(1), mcplib.DefaultNumber(1)),
			mcplib.WithNumber("page_size", mcplib.Description("Guidelines per page"),
				mcplib.Min(1),
				mcplib.Max(500),
				mcplib.DefaultNumber(storage.DefaultGuidelinePageSize),
			),
		),
		s.handleList,
	)

	// guidelines_get: fetch one guideline.
	s.mcpServer.AddTool(
		mcplib.NewTool("guidelines_get",
			mcplib.WithDescription("Get one guideline by id."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("id", mcplib.Description("Guideline id"), mcplib.Required()),
		),
		s.handleGet,
	)
}

func (s *Server) handleGetContext(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	tc, err := model.TaskContextFromMap(request.GetArguments())
	if err != nil {
		return errorResult(err.Error()), nil
	}
	ec, err := s.evaluator.GetContext(ctx, tc)
	if err != nil {
		return s.opErrorResult("get_context", err), nil
	}
	return jsonResult(ec)
}

func (s *Server) handleLogDecision(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	d, err := model.GateDecisionFromMap(request.GetArguments())
	if err != nil {
		return errorResult(err.Error()), nil
	}
	id, err := s.evaluator.LogDecision(ctx, d)
	if err != nil {
		return s.opErrorResult("log_decision", err), nil
	}
	return jsonResult(model.DecisionResponse{ID: id})
}

func (s *Server) handleList(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	f := storage.GuidelineFilter{
		Page:     request.GetInt("page", 1),
		PageSize: min(request.GetInt("page_size", storage.DefaultGuidelinePageSize), 500),
	}
	if raw := request.GetString("category", ""); raw != "" {
		c, err := model.ParseCategory(raw)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		f.Category = &c
	}
	if _, ok := request.GetArguments()["enabled"]; ok {
		enabled := request.GetBool("enabled", true)
		f.Enabled = &enabled
	}

	gs, total, err := s.repo.ListGuidelines(ctx, f)
	if err != nil {
		return s.opErrorResult("list", err), nil
	}
	if gs == nil {
		gs = []model.Guideline{}
	}
	f = f.Normalize()
	return jsonResult(map[string]any{
		"guidelines": gs,
		"total":      total,
		"page":       f.Page,
		"page_size":  f.PageSize,
		"has_more":   f.Offset()+len(gs) < total,
	})
}

func (s *Server) handleGet(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("id", "")
	if id == "" {
		return errorResult("id is required"), nil
	}
	g, err := s.repo.GetGuideline(ctx, id)
	if err != nil {
		return s.opErrorResult("get", err), nil
	}
	return jsonResult(g)
}

func gateResults() []string {
	out := make([]string, len(model.GateResults))
	for i, r := range model.GateResults {
		out[i] = string(r)
	}
	return out
}

func categories() []string {
	out := make([]string, len(model.Categories))
	for i, c := range model.Categories {
		out[i] = string(c)
	}
	return out
}
