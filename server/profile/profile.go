// Package profile holds the process configuration, populated from the
// environment (viper with the CHAINCHAT_ prefix, .env loaded by main).
package profile

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Profile is the resolved configuration for one server process.
type Profile struct {
	// Addr and Port bind the HTTP listener.
	Addr string
	Port int

	// Data is the directory for local state (sqlite database).
	Data string
	// Driver is "sqlite", "postgres", or "mysql"; DSN applies to the latter two.
	Driver string
	DSN    string

	// Generation engine (OpenAI-compatible, OpenRouter in production).
	AIBaseURL string
	AIAPIKey  string
	AIModel   string

	// JWTSecret signs session tokens.
	JWTSecret string

	// QuotaResetSecret guards the externally-scheduled quota reset endpoint.
	QuotaResetSecret string
	FreeDailyLimit   int32
	ProDailyLimit    int32

	// StrictSanitize switches history repair from dropping orphaned tool
	// invocations to dropping their whole owning message.
	StrictSanitize bool

	// ToolGroupsPath points at the YAML tool-group configuration; empty
	// means built-in defaults.
	ToolGroupsPath string

	// Data providers for the endpoint-resolver tools.
	PortfolioSpecURI  string
	PortfolioBaseURL  string
	PortfolioAPIKey   string
	MarketSpecURI     string
	MarketBaseURL     string
	MarketAPIKey      string
	ExplorerSpecURI   string
	ExplorerBaseURL   string
	ExplorerAPIKey    string
	DefiSpecURI       string
	DefiBaseURL       string
	ChainStatsSpecURI string
	ChainStatsBaseURL string
	SearchAPIKey      string
}

// FromEnv reads the profile from the environment.
func FromEnv() (*Profile, error) {
	v := viper.New()
	v.SetEnvPrefix("chainchat")
	v.AutomaticEnv()

	v.SetDefault("addr", "")
	v.SetDefault("port", 8081)
	v.SetDefault("data", ".")
	v.SetDefault("driver", "sqlite")
	v.SetDefault("ai_base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("ai_model", "anthropic/claude-3.5-sonnet")
	v.SetDefault("free_daily_limit", 20)
	v.SetDefault("pro_daily_limit", 200)

	p := &Profile{
		Addr:             v.GetString("addr"),
		Port:             v.GetInt("port"),
		Data:             v.GetString("data"),
		Driver:           v.GetString("driver"),
		DSN:              v.GetString("dsn"),
		AIBaseURL:        v.GetString("ai_base_url"),
		AIAPIKey:         v.GetString("ai_api_key"),
		AIModel:          v.GetString("ai_model"),
		JWTSecret:        v.GetString("jwt_secret"),
		QuotaResetSecret: v.GetString("quota_reset_secret"),
		FreeDailyLimit:   v.GetInt32("free_daily_limit"),
		ProDailyLimit:    v.GetInt32("pro_daily_limit"),
		StrictSanitize:   v.GetBool("strict_sanitize"),
		ToolGroupsPath:   v.GetString("tool_groups_path"),

		PortfolioSpecURI:  v.GetString("portfolio_spec_uri"),
		PortfolioBaseURL:  v.GetString("portfolio_base_url"),
		PortfolioAPIKey:   v.GetString("portfolio_api_key"),
		MarketSpecURI:     v.GetString("market_spec_uri"),
		MarketBaseURL:     v.GetString("market_base_url"),
		MarketAPIKey:      v.GetString("market_api_key"),
		ExplorerSpecURI:   v.GetString("explorer_spec_uri"),
		ExplorerBaseURL:   v.GetString("explorer_base_url"),
		ExplorerAPIKey:    v.GetString("explorer_api_key"),
		DefiSpecURI:       v.GetString("defi_spec_uri"),
		DefiBaseURL:       v.GetString("defi_base_url"),
		ChainStatsSpecURI: v.GetString("chain_stats_spec_uri"),
		ChainStatsBaseURL: v.GetString("chain_stats_base_url"),
		SearchAPIKey:      v.GetString("search_api_key"),
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) validate() error {
	switch p.Driver {
	case "sqlite":
	case "postgres", "mysql":
		if p.DSN == "" {
			return errors.Errorf("driver %s requires CHAINCHAT_DSN", p.Driver)
		}
	default:
		return errors.Errorf("unknown driver %q", p.Driver)
	}
	if p.JWTSecret == "" {
		return errors.New("CHAINCHAT_JWT_SECRET is required")
	}
	return nil
}
