package cosmetic

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testImpl = &mcp.Implementation{Name: "cosmetic-test", Version: "0.1.0"}

// mcpSession registers the agent tools and returns a connected client
// session that can call them end to end.
func mcpSession(t *testing.T, a *Agent) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testImpl, nil)
	a.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, error) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		return "", err
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text, nil
}

func TestMCP_FilterHTML(t *testing.T) {
	session := mcpSession(t, testAgent(t, TransportLocal))

	text, err := callTool(t, session, "cosmetic_filter_html", map[string]any{
		"html":     testPage,
		"page_url": "https://news.example/",
	})
	if err != nil {
		t.Fatalf("tool error: %v", err)
	}
	var resp filterHTMLResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(resp.HTML, `class="cosmetic-postload"`) {
		t.Errorf("no postload stylesheet in %s", resp.HTML)
	}
	if strings.Contains(resp.HTML, "ads.example.net") {
		t.Error("blocked image still present")
	}
	if resp.Stats.CosmeticSelectors != 3 {
		t.Errorf("cosmetic selectors: got %d, want 3", resp.Stats.CosmeticSelectors)
	}
}

func TestMCP_FilterHTML_MissingURL(t *testing.T) {
	session := mcpSession(t, testAgent(t, TransportNone))
	if _, err := callTool(t, session, "cosmetic_filter_html", map[string]any{"html": testPage, "page_url": ""}); err == nil {
		t.Error("expected tool error without page_url")
	}
}

func TestMCP_SessionsAndStats(t *testing.T) {
	a := testAgent(t, TransportLocal)
	session := mcpSession(t, a)
	filterTestPage(t, a)

	text, err := callTool(t, session, "cosmetic_sessions", map[string]any{})
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if strings.TrimSpace(text) != "[]" {
		t.Errorf("sessions: got %s, want []", text)
	}

	waitFor(t, "journal", func() bool {
		hosts, err := a.HostStats(context.Background())
		return err == nil && len(hosts) == 1 && hosts[0].Net == 1
	})
	text, err = callTool(t, session, "cosmetic_stats", map[string]any{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var resp statsResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Hosts) != 1 || resp.Hosts[0].Hostname != "news.example" || resp.Hosts[0].Cosmetic != 3 {
		t.Errorf("hosts: got %+v", resp.Hosts)
	}
}

func TestMCP_ClosePageUnknown(t *testing.T) {
	session := mcpSession(t, testAgent(t, TransportNone))
	if _, err := callTool(t, session, "cosmetic_close_page", map[string]any{"page_id": "nope"}); err == nil {
		t.Error("expected tool error for unknown page")
	}
}
