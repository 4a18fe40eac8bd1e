package cosmetic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the agent tools on an MCP server.
func (a *Agent) RegisterMCP(srv *mcp.Server) {
	a.registerFilterPageTool(srv)
	a.registerFilterHTMLTool(srv)
	a.registerClosePageTool(srv)
	a.registerSessionsTool(srv)
	a.registerStatsTool(srv)
	a.registerRecentTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// registerTool decodes the arguments into a fresh T, calls fn and returns
// its result as JSON text. Failures become tool errors, not protocol errors.
func registerTool[T any](srv *mcp.Server, tool *mcp.Tool, fn func(ctx context.Context, req *T) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args T
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		resp, err := fn(ctx, &args)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- filter page ---

type filterPageRequest struct {
	URL    string `json:"url"`
	PageID string `json:"page_id,omitempty"`
}

func (a *Agent) registerFilterPageTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "cosmetic_filter_page",
		Description: "Open a URL in the managed browser and keep applying cosmetic filters to it until closed.",
		InputSchema: inputSchema(map[string]any{
			"url":     map[string]any{"type": "string", "description": "Page URL"},
			"page_id": map[string]any{"type": "string", "description": "Session id (generated when empty)"},
		}, []string{"url"}),
	}
	registerTool(srv, tool, func(ctx context.Context, r *filterPageRequest) (any, error) {
		if r.URL == "" {
			return nil, fmt.Errorf("url is required")
		}
		id := r.PageID
		if id == "" {
			id = newSessionID()
		}
		if err := a.FilterPage(ctx, r.URL, id); err != nil {
			return nil, err
		}
		return map[string]string{"status": "filtering", "page_id": id}, nil
	})
}

// --- filter html ---

type filterHTMLRequest struct {
	HTML    string `json:"html"`
	PageURL string `json:"page_url"`
}

type filterHTMLResponse struct {
	HTML  string       `json:"html"`
	Stats SessionStats `json:"stats"`
}

func (a *Agent) registerFilterHTMLTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "cosmetic_filter_html",
		Description: "Apply cosmetic filters to a static HTML document and return the filtered markup.",
		InputSchema: inputSchema(map[string]any{
			"html":     map[string]any{"type": "string", "description": "Document markup"},
			"page_url": map[string]any{"type": "string", "description": "URL the document was served from"},
		}, []string{"html", "page_url"}),
	}
	registerTool(srv, tool, func(ctx context.Context, r *filterHTMLRequest) (any, error) {
		if r.PageURL == "" {
			return nil, fmt.Errorf("page_url is required")
		}
		out, stats, err := a.FilterHTML(ctx, r.PageURL, strings.NewReader(r.HTML))
		if err != nil {
			return nil, err
		}
		return filterHTMLResponse{HTML: out, Stats: stats}, nil
	})
}

// --- close page ---

type closePageRequest struct {
	PageID string `json:"page_id"`
}

func (a *Agent) registerClosePageTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "cosmetic_close_page",
		Description: "Stop filtering a page and close its tab.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Session id"},
		}, []string{"page_id"}),
	}
	registerTool(srv, tool, func(_ context.Context, r *closePageRequest) (any, error) {
		if err := a.ClosePage(r.PageID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "closed", "page_id": r.PageID}, nil
	})
}

// --- sessions ---

type emptyRequest struct{}

func (a *Agent) registerSessionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "cosmetic_sessions",
		Description: "List live page sessions with their counters.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(context.Context, *emptyRequest) (any, error) {
		return a.Sessions(), nil
	})
}

// --- stats ---

type statsResponse struct {
	Agent Stats       `json:"agent"`
	Hosts []HostStats `json:"hosts,omitempty"`
}

func (a *Agent) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "cosmetic_stats",
		Description: "Agent counters and per-hostname journal totals.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, _ *emptyRequest) (any, error) {
		resp := statsResponse{Agent: a.Stats()}
		hosts, err := a.HostStats(ctx)
		if err != nil && !errors.Is(err, ErrNoJournal) {
			return nil, err
		}
		resp.Hosts = hosts
		return resp, nil
	})
}

// --- recent ---

type recentRequest struct {
	Hostname string `json:"hostname,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func (a *Agent) registerRecentTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "cosmetic_recent",
		Description: "Newest journal entries, optionally for one hostname.",
		InputSchema: inputSchema(map[string]any{
			"hostname": map[string]any{"type": "string", "description": "Hostname filter"},
			"limit":    map[string]any{"type": "integer", "description": "Max entries (default 100)"},
		}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, r *recentRequest) (any, error) {
		return a.Recent(ctx, r.Hostname, r.Limit)
	})
}
