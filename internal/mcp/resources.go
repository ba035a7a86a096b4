package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/jb-612/dox-asdlc-sub004/internal/model"
	"github.com/jb-612/dox-asdlc-sub004/internal/storage"
)

const (
	catalogURI        = "guidelines://catalog"
	guidelineURIStart = "guidelines://guideline/"
)

func (s *Server) registerResources() {
	// guidelines://catalog: every enabled guideline, highest priority first.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			catalogURI,
			"Guideline Catalog",
			mcplib.WithResourceDescription("Enabled guidelines ordered by priority"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleCatalog,
	)

	// guidelines://guideline/{id}: one guideline document.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			guidelineURIStart+"{id}",
			"Guideline",
			mcplib.WithTemplateDescription("A single guideline document"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleGuidelineResource,
	)
}

func (s *Server) handleCatalog(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	enabled := true
	gs, _, err := s.repo.ListGuidelines(ctx, storage.GuidelineFilter{Enabled: &enabled, PageSize: 500})
	if err != nil {
		return nil, fmt.Errorf("mcp: catalog: %w", err)
	}
	if gs == nil {
		gs = []model.Guideline{}
	}
	return jsonContents(catalogURI, gs)
}

func (s *Server) handleGuidelineResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	id, err := parseGuidelineURI(request.Params.URI)
	if err != nil {
		return nil, err
	}
	g, err := s.repo.GetGuideline(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: guideline %s: %w", id, err)
	}
	return jsonContents(request.Params.URI, g)
}

// parseGuidelineURI extracts the id from guidelines://guideline/{id}. The id
// may be percent-encoded.
func parseGuidelineURI(uri string) (string, error) {
	raw, ok := strings.CutPrefix(uri, guidelineURIStart)
	if !ok {
		return "", fmt.Errorf("mcp: invalid guideline URI: %q", uri)
	}
	id, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("mcp: invalid guideline URI: %q: %w", uri, err)
	}
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("mcp: empty or nested guideline id in URI: %q", uri)
	}
	return id, nil
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
