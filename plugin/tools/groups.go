package tools

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Group binds a subset of tools to a system-prompt fragment. Immutable,
// process-wide configuration.
type Group struct {
	Tools        []string `yaml:"tools"`
	SystemPrompt string   `yaml:"prompt"`
}

// Groups is the named set of tool groups loaded at startup.
type Groups struct {
	groups map[string]Group
}

type groupsFile struct {
	Groups map[string]Group `yaml:"groups"`
}

// LoadGroups reads the YAML group configuration at path. An empty path yields
// the built-in defaults.
func LoadGroups(path string) (*Groups, error) {
	if path == "" {
		return DefaultGroups(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read tool groups")
	}
	var file groupsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parse tool groups")
	}
	return &Groups{groups: file.Groups}, nil
}

// DefaultGroups is the built-in configuration used when no file is given.
func DefaultGroups() *Groups {
	return &Groups{groups: map[string]Group{
		"search": {
			Tools:        []string{"web_search", "token_market"},
			SystemPrompt: "You can search the web and look up token market data to answer the user.",
		},
		"on_chain": {
			Tools:        []string{"wallet_portfolio", "chain_explorer", "token_market", "defi_stats"},
			SystemPrompt: "You can inspect wallets, tokens, and on-chain activity through the available tools. Always fetch data instead of guessing.",
		},
		"creditcoin": {
			Tools:        []string{"chain_stats", "chain_explorer"},
			SystemPrompt: "You answer questions about the Creditcoin network using its explorer and stats endpoints.",
		},
	}}
}

// Resolve returns the group for id. An unknown id yields an empty group —
// zero tools and an empty prompt fragment — never an error, so a
// configuration problem in one domain cannot take down chat entirely.
func (g *Groups) Resolve(id string) Group {
	if g == nil {
		return Group{}
	}
	return g.groups[id]
}
