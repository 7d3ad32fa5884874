package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/chainchat/chainchat/plugin/openapi"
)

// resolverTool adapts one provider's endpoint Resolver to the tool interface.
// Every chain-data tool (wallet portfolio, token market, explorers, DeFi and
// network stats) is an instance of this type bound to a different provider.
type resolverTool struct {
	name        string
	description string
	resolver    *openapi.Resolver
}

// NewResolverTool wraps resolver as a named tool. Input is a JSON object with
// a single `query` key; a bare string input is accepted as the query itself.
func NewResolverTool(name, description string, resolver *openapi.Resolver) *resolverTool {
	return &resolverTool{name: name, description: description, resolver: resolver}
}

func (t *resolverTool) Name() string        { return t.name }
func (t *resolverTool) Description() string { return t.description }

// ResolverToolSchema is the parameter schema every resolver-backed tool
// advertises.
func ResolverToolSchema() map[string]any {
	return ObjectSchema(map[string]any{
		"query": StringProperty("The question to answer with this data source, in plain language. Include addresses, symbols, or hashes verbatim."),
	}, []string{"query"})
}

func (t *resolverTool) Call(ctx context.Context, input string) (string, error) {
	slog.Info("[AGENT TOOL CALL]", "tool", t.name, "input", input)
	query := parseQuery(input)
	if query == "" {
		return "Error: empty query.", nil
	}
	result, err := t.resolver.Resolve(ctx, query)
	if err != nil {
		// Tool-level failures, DocUnavailable included, are reported back
		// into the generation loop as text the model can reason about.
		return "Error: " + err.Error(), nil
	}
	return result, nil
}

func parseQuery(input string) string {
	var payload struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(input), &payload); err == nil && payload.Query != "" {
		return payload.Query
	}
	return strings.TrimSpace(input)
}
