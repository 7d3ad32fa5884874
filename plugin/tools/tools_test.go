package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainchat/chainchat/plugin/openapi"
)

type staticTool struct {
	name string
}

func (t staticTool) Name() string                              { return t.name }
func (t staticTool) Description() string                       { return "desc " + t.name }
func (t staticTool) Call(context.Context, string) (string, error) { return "ok", nil }

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry()
	r.Register(staticTool{name: "alpha"}, ObjectSchema(map[string]any{"query": StringProperty("q")}, []string{"query"}))
	r.Register(staticTool{name: "beta"}, nil)

	defs := r.Definitions([]string{"alpha", "missing", "beta"})
	require.Len(t, defs, 2)
	require.Equal(t, "alpha", defs[0].Name)
	require.Equal(t, "desc alpha", defs[0].Description)
	// A nil schema is advertised as an empty object, never absent.
	require.Equal(t, "object", defs[1].Parameters["type"])

	require.Equal(t, []string{"alpha", "beta"}, r.Names())

	_, ok := r.Get("missing")
	require.False(t, ok)
}

func TestGroupsResolve(t *testing.T) {
	groups := DefaultGroups()

	onChain := groups.Resolve("on_chain")
	require.Contains(t, onChain.Tools, "wallet_portfolio")
	require.NotEmpty(t, onChain.SystemPrompt)

	unknown := groups.Resolve("no_such_group")
	require.Empty(t, unknown.Tools)
	require.Empty(t, unknown.SystemPrompt)
}

func TestLoadGroupsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
groups:
  custom:
    tools: [web_search]
    prompt: Answer using the web.
`), 0o600))

	groups, err := LoadGroups(path)
	require.NoError(t, err)
	g := groups.Resolve("custom")
	require.Equal(t, []string{"web_search"}, g.Tools)
	require.Equal(t, "Answer using the web.", g.SystemPrompt)

	// The file replaces the defaults rather than merging into them.
	require.Empty(t, groups.Resolve("on_chain").Tools)
}

func TestParseQuery(t *testing.T) {
	require.Equal(t, "eth price", parseQuery(`{"query":"eth price"}`))
	require.Equal(t, "bare text", parseQuery("bare text"))
	require.Equal(t, "trimmed", parseQuery("  trimmed \n"))
	require.Equal(t, "", parseQuery(`{"query":""}`))
}

func TestResolverToolReportsDocUnavailable(t *testing.T) {
	// A provider whose spec host is down degrades to a tool-level error the
	// model can read, never a turn failure.
	resolver := openapi.NewLazyResolver("", &openapi.Provider{Name: "portfolio"}, nil)
	tool := NewResolverTool("wallet_portfolio", "wallet data", resolver)

	out, err := tool.Call(context.Background(), `{"query":"balance of 0xabc"}`)
	require.NoError(t, err)
	require.Contains(t, out, "Error:")
	require.Contains(t, out, "document unavailable")
}

func TestSearchToolParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "token", r.Header.Get("X-Subscription-Token"))
		require.Equal(t, "eth merge", r.URL.Query().Get("q"))
		fmt.Fprint(w, `{"web":{"results":[
			{"title":"The Merge","url":"https://example.com/merge","description":"Ethereum switched to proof of stake."},
			{"title":"Aftermath","url":"https://example.com/after","description":"What changed."}
		]}}`)
	}))
	defer srv.Close()

	tool := NewSearchTool(srv.URL, "token", srv.Client())
	out, err := tool.Call(context.Background(), `{"query":"eth merge"}`)
	require.NoError(t, err)
	require.Contains(t, out, "[1] The Merge")
	require.Contains(t, out, "[2] Aftermath")
	require.Contains(t, out, "https://example.com/merge")
}

func TestSearchToolUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tool := NewSearchTool(srv.URL, "token", srv.Client())
	out, err := tool.Call(context.Background(), "anything")
	require.NoError(t, err)
	require.Contains(t, out, "status 429")
}

func TestSearchToolNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"web":{"results":[]}}`)
	}))
	defer srv.Close()

	tool := NewSearchTool(srv.URL, "token", srv.Client())
	out, err := tool.Call(context.Background(), "anything")
	require.NoError(t, err)
	require.Equal(t, "No search results found.", out)
}
