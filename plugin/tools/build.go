package tools

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/chainchat/chainchat/plugin/llm"
	"github.com/chainchat/chainchat/plugin/openapi"
)

// ProviderConfig describes one wrapped data provider: where its OpenAPI
// document lives, where requests go, and how to authenticate.
type ProviderConfig struct {
	SpecURI    string
	BaseURL    string
	AuthHeader string
	AuthValue  string
	// RequestsPerSecond paces calls to the provider; zero means 2/s.
	RequestsPerSecond float64
}

// Config carries everything needed to assemble the standard registry.
type Config struct {
	WalletPortfolio ProviderConfig // e.g. Covalent
	TokenMarket     ProviderConfig // e.g. CoinGecko
	ChainExplorer   ProviderConfig // e.g. Etherscan
	DefiStats       ProviderConfig // e.g. DefiLlama
	ChainStats      ProviderConfig // e.g. Creditcoin explorer
	SearchEndpoint  string
	SearchAPIKey    string
}

func (c ProviderConfig) provider(name string) *openapi.Provider {
	rps := c.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &openapi.Provider{
		Name:       name,
		BaseURL:    c.BaseURL,
		AuthHeader: c.AuthHeader,
		AuthValue:  c.AuthValue,
		Limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		Timeout:    15 * time.Second,
	}
}

// BuildRegistry assembles the process-wide tool registry. Providers whose
// documents are unreachable still get a tool; the failure surfaces as a
// tool-level error when the model calls it.
func BuildRegistry(cfg Config, completer llm.Completer) *Registry {
	r := NewRegistry()

	register := func(name, description string, pc ProviderConfig) {
		if pc.SpecURI == "" {
			return
		}
		resolver := openapi.NewLazyResolver(pc.SpecURI, pc.provider(name), completer)
		r.Register(NewResolverTool(name, description, resolver), ResolverToolSchema())
	}

	register("wallet_portfolio",
		"Look up the token balances, holdings, and transaction history of a wallet address across chains.",
		cfg.WalletPortfolio)
	register("token_market",
		"Look up market data for a token: price, market cap, volume, historical charts.",
		cfg.TokenMarket)
	register("chain_explorer",
		"Query a block explorer for transactions, blocks, contracts, and address activity.",
		cfg.ChainExplorer)
	register("defi_stats",
		"Look up DeFi protocol statistics: TVL, yields, volumes per protocol or chain.",
		cfg.DefiStats)
	register("chain_stats",
		"Query Creditcoin network statistics and explorer data.",
		cfg.ChainStats)

	if cfg.SearchAPIKey != "" {
		r.Register(NewSearchTool(cfg.SearchEndpoint, cfg.SearchAPIKey, nil), ObjectSchema(map[string]any{
			"query": StringProperty("The web search query."),
		}, []string{"query"}))
	}

	return r
}
