package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// searchTool answers general questions through a web search API. It is the
// one tool in the default registry that is not resolver-backed: the search
// surface is a single fixed endpoint, not a discovered one.
type searchTool struct {
	endpoint   string
	apiKey     string
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewSearchTool builds the web_search tool against a Brave-compatible search
// endpoint. endpoint defaults to the public Brave API when empty.
func NewSearchTool(endpoint, apiKey string, httpClient *http.Client) *searchTool {
	if endpoint == "" {
		endpoint = "https://api.search.brave.com/res/v1/web/search"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &searchTool{
		endpoint:   endpoint,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		httpClient: httpClient,
	}
}

func (t *searchTool) Name() string { return "web_search" }
func (t *searchTool) Description() string {
	return "Search the web for current information: news, prices in context, project documentation. Input is a JSON object with a `query` key."
}

func (t *searchTool) Call(ctx context.Context, input string) (string, error) {
	slog.Info("[AGENT TOOL CALL]", "tool", t.Name(), "input", input)
	query := parseQuery(input)
	if query == "" {
		return "Error: empty query.", nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return "Error: " + err.Error(), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.endpoint+"?q="+url.QueryEscape(query)+"&count=5", nil)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error: search returned status %d.", resp.StatusCode), nil
	}

	results, err := parseSearchResults(body)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	if len(results) == 0 {
		return "No search results found.", nil
	}
	return strings.Join(results, "\n\n"), nil
}

func parseSearchResults(body []byte) ([]string, error) {
	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, "parse search response")
	}
	out := make([]string, 0, len(payload.Web.Results))
	for i, r := range payload.Web.Results {
		out = append(out, fmt.Sprintf("[%d] %s\n%s\n%s", i+1, r.Title, r.URL, r.Description))
	}
	return out, nil
}
