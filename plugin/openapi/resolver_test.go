package openapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const testSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "Explorer", "version": "1.0"},
  "paths": {
    "/api/v2/addresses/{hash}": {
      "get": {
        "summary": "Get address info",
        "parameters": [
          {"name": "hash", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/api/v2/stats": {
      "get": {"summary": "Network stats", "responses": {"200": {"description": "ok"}}}
    },
    "/api/v2/blocks": {
      "get": {"summary": "List blocks", "responses": {"200": {"description": "ok"}}}
    },
    "/api/v2/tokens": {
      "get": {"summary": "List tokens", "responses": {"200": {"description": "ok"}}}
    },
    "/api/v2/transactions": {
      "get": {"summary": "List transactions", "responses": {"200": {"description": "ok"}}}
    }
  }
}`

// promptCompleter routes each Complete call by which pipeline stage the prompt
// belongs to, and records every prompt for assertions.
type promptCompleter struct {
	selection string
	urls      map[string]string // path template -> synthesized URL
	summary   string
	prompts   []string
}

func (c *promptCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	switch {
	case strings.Contains(prompt, "JSON array of path strings"):
		return c.selection, nil
	case strings.Contains(prompt, "Reply with ONLY the URL"):
		for path, u := range c.urls {
			if strings.Contains(prompt, path) {
				return u, nil
			}
		}
		return "", fmt.Errorf("promptCompleter: no URL scripted for prompt")
	default:
		return c.summary, nil
	}
}

func (c *promptCompleter) summarizePrompt(t *testing.T) string {
	t.Helper()
	last := c.prompts[len(c.prompts)-1]
	require.Contains(t, last, "API responses")
	return last
}

func loadTestDocument(t *testing.T) *Document {
	t.Helper()
	doc, err := LoadDocument(context.Background(), []byte(testSpec))
	require.NoError(t, err)
	return doc
}

func TestLoadDocumentRejectsEmpty(t *testing.T) {
	_, err := LoadDocument(context.Background(), []byte(`{"openapi":"3.0.0","info":{"title":"x","version":"1"},"paths":{}}`))
	require.ErrorIs(t, err, ErrDocUnavailable)
}

func TestDocumentCandidatesSorted(t *testing.T) {
	doc := loadTestDocument(t)
	candidates := doc.Candidates()
	require.Len(t, candidates, 3)
	require.Equal(t, "/api/v2/addresses/{hash}", candidates[0].Path)
	require.Equal(t, "Get address info", candidates[0].Summary)
	require.Equal(t, "/api/v2/stats", candidates[2].Path)
	require.True(t, doc.HasPath("/api/v2/stats"))
	require.False(t, doc.HasPath("/api/v2/made-up"))
}

func TestResolveNoRelevantEndpoint(t *testing.T) {
	completer := &promptCompleter{selection: "[]"}
	r := NewResolver(loadTestDocument(t), &Provider{Name: "explorer", BaseURL: "http://unused.invalid"}, completer)

	out, err := r.Resolve(context.Background(), "what is the weather")
	require.NoError(t, err)
	require.Equal(t, NoEndpointMessage, out)
	require.Len(t, completer.prompts, 1)
}

func TestResolveDiscardsInventedPaths(t *testing.T) {
	// Model replies with one declared path and one invented one; only the
	// declared path may execute.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total_blocks":"123"}`)
	}))
	defer srv.Close()

	completer := &promptCompleter{
		selection: `["/api/v2/stats", "/api/v2/invented"]`,
		urls:      map[string]string{"/api/v2/stats": srv.URL + "/api/v2/stats"},
		summary:   "There are 123 blocks.",
	}
	r := NewResolver(loadTestDocument(t), &Provider{Name: "explorer", BaseURL: srv.URL}, completer)

	out, err := r.Resolve(context.Background(), "how many blocks")
	require.NoError(t, err)
	require.Equal(t, "There are 123 blocks.", out)

	prompt := completer.summarizePrompt(t)
	require.Contains(t, prompt, "/api/v2/stats")
	require.NotContains(t, prompt, "/api/v2/invented")
}

func TestResolveFencedSelection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	completer := &promptCompleter{
		selection: "```json\n[\"/api/v2/stats\"]\n```",
		urls:      map[string]string{"/api/v2/stats": "/api/v2/stats"},
		summary:   "ok",
	}
	r := NewResolver(loadTestDocument(t), &Provider{Name: "explorer", BaseURL: srv.URL}, completer)

	out, err := r.Resolve(context.Background(), "stats")
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}

func TestResolvePartialFailure(t *testing.T) {
	// One candidate 500s; the other succeeds. The turn must not fail, and the
	// summarization prompt must show both outcomes.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/v2/blocks") {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"average_block_time":14.2}`)
	}))
	defer srv.Close()

	completer := &promptCompleter{
		selection: `["/api/v2/stats", "/api/v2/blocks"]`,
		urls: map[string]string{
			"/api/v2/stats":  "/api/v2/stats",
			"/api/v2/blocks": "/api/v2/blocks",
		},
		summary: "Average block time is 14.2s; block listing failed.",
	}
	r := NewResolver(loadTestDocument(t), &Provider{
		Name:    "explorer",
		BaseURL: srv.URL,
		Limiter: rate.NewLimiter(rate.Inf, 1),
	}, completer)

	out, err := r.Resolve(context.Background(), "network health")
	require.NoError(t, err)
	require.NotEmpty(t, out)

	prompt := completer.summarizePrompt(t)
	require.Contains(t, prompt, "average_block_time")
	require.Contains(t, prompt, "FAILED")
	require.Contains(t, prompt, "status 500")
}

func TestResolveSummarizesOverMajorityFailure(t *testing.T) {
	// Three of five candidates fail; the two successes still produce a
	// summary and every failure is reported to the model.
	failing := map[string]bool{
		"/api/v2/blocks":       true,
		"/api/v2/tokens":       true,
		"/api/v2/transactions": true,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing[r.URL.Path] {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, `{"endpoint":"%s","ok":true}`, r.URL.Path)
	}))
	defer srv.Close()

	completer := &promptCompleter{
		selection: `["/api/v2/stats","/api/v2/blocks","/api/v2/tokens","/api/v2/transactions","/api/v2/addresses/{hash}"]`,
		urls: map[string]string{
			"/api/v2/stats":            "/api/v2/stats",
			"/api/v2/blocks":           "/api/v2/blocks",
			"/api/v2/tokens":           "/api/v2/tokens",
			"/api/v2/transactions":     "/api/v2/transactions",
			"/api/v2/addresses/{hash}": "/api/v2/addresses/0xabc",
		},
		summary: "Partial answer from stats and address data.",
	}
	r := NewResolver(loadTestDocument(t), &Provider{Name: "explorer", BaseURL: srv.URL}, completer)

	out, err := r.Resolve(context.Background(), "network overview")
	require.NoError(t, err)
	require.Equal(t, "Partial answer from stats and address data.", out)

	prompt := completer.summarizePrompt(t)
	require.Equal(t, 3, strings.Count(prompt, "FAILED"))
	require.Contains(t, prompt, `"/api/v2/stats"`)
	require.Contains(t, prompt, `"/api/v2/addresses/0xabc"`)
}

func TestResolveAuthAndDescale(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-API-Key")
		fmt.Fprint(w, `{"coin_balance":"2500000000000000000"}`)
	}))
	defer srv.Close()

	completer := &promptCompleter{
		selection: `["/api/v2/addresses/{hash}"]`,
		urls:      map[string]string{"/api/v2/addresses/{hash}": "/api/v2/addresses/0xabc"},
		summary:   "The address holds 2.5 tokens.",
	}
	r := NewResolver(loadTestDocument(t), &Provider{
		Name:       "explorer",
		BaseURL:    srv.URL,
		AuthHeader: "X-API-Key",
		AuthValue:  "secret",
	}, completer)

	out, err := r.Resolve(context.Background(), "balance of 0xabc")
	require.NoError(t, err)
	require.Equal(t, "The address holds 2.5 tokens.", out)
	require.Equal(t, "secret", gotAuth)

	// The raw wei amount must reach the model already descaled.
	prompt := completer.summarizePrompt(t)
	require.Contains(t, prompt, "2.5")
	require.NotContains(t, prompt, "2500000000000000000")
}

func TestResolveSynthesizedURLOutsideBase(t *testing.T) {
	completer := &promptCompleter{
		selection: `["/api/v2/stats"]`,
		urls:      map[string]string{"/api/v2/stats": "http://evil.invalid/steal"},
		summary:   "Could not fetch stats.",
	}
	r := NewResolver(loadTestDocument(t), &Provider{Name: "explorer", BaseURL: "http://good.invalid"}, completer)

	out, err := r.Resolve(context.Background(), "stats")
	require.NoError(t, err)
	require.Equal(t, "Could not fetch stats.", out)

	prompt := completer.summarizePrompt(t)
	require.Contains(t, prompt, "FAILED")
	require.Contains(t, prompt, "outside provider base")
}

func TestLazyResolverNoURI(t *testing.T) {
	r := NewLazyResolver("", &Provider{Name: "explorer"}, &promptCompleter{})
	_, err := r.Resolve(context.Background(), "anything")
	require.ErrorIs(t, err, ErrDocUnavailable)
}
