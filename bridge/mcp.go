package bridge

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/frictionwatch/friction"
	"github.com/hazyhaar/frictionwatch/kit"
)

// StatsRequest selects a page view.
type StatsRequest struct {
	PageID string `json:"page_id"`
}

// StatsResponse carries the friction counters of a page view.
type StatsResponse struct {
	PageID string         `json:"pageId"`
	URL    string         `json:"url"`
	Stats  friction.Stats `json:"stats"`
}

// PagesRequest lists open page views.
type PagesRequest struct{}

// PagesResponse lists open page views.
type PagesResponse struct {
	Pages []PageInfo `json:"pages"`
}

func (s *Server) statsEndpoint(_ context.Context, req any) (any, error) {
	r, ok := req.(StatsRequest)
	if !ok {
		return nil, fmt.Errorf("bridge: stats: unexpected request %T", req)
	}
	p, err := s.get(r.PageID)
	if err != nil {
		return nil, err
	}
	return StatsResponse{PageID: p.id, URL: p.session.URL(), Stats: p.session.Stats()}, nil
}

func (s *Server) pagesEndpoint(_ context.Context, _ any) (any, error) {
	return PagesResponse{Pages: s.Pages()}, nil
}

func (s *Server) newMCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "frictionwatch", Version: "v1"}, nil)
	s.RegisterMCP(srv)
	return srv
}

// RegisterMCP registers the bridge tools on srv.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerStatsTool(srv)
	s.registerPagesTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (s *Server) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "frictionwatch_stats",
		Description: "Friction counters (rage clicks, dead clicks, thrashing, abandonments, skips, scroll depth) of an open page view.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Page id returned when the page was opened"},
		}, []string{"page_id"}),
	}

	check := func(r StatsRequest) error {
		if r.PageID == "" {
			return fmt.Errorf("page_id is required")
		}
		return nil
	}
	scope := func(ctx context.Context, r StatsRequest) context.Context { return kit.WithPageID(ctx, r.PageID) }

	kit.RegisterMCPTool(srv, tool, s.stats, kit.JSONArgs(check, scope))
}

func (s *Server) registerPagesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "frictionwatch_pages",
		Description: "List open page views with their session, visitor and friction counters.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	kit.RegisterMCPTool(srv, tool, s.list, kit.JSONArgs[PagesRequest](nil, nil))
}
