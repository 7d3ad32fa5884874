package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chainchat/chainchat/plugin/llm"
	"github.com/chainchat/chainchat/plugin/tools"
	"github.com/chainchat/chainchat/server"
	"github.com/chainchat/chainchat/server/profile"
	"github.com/chainchat/chainchat/store"
	"github.com/chainchat/chainchat/store/db/mysql"
	"github.com/chainchat/chainchat/store/db/postgres"
	"github.com/chainchat/chainchat/store/db/sqlite"
)

var rootCmd = &cobra.Command{
	Use:   "chainchat",
	Short: "Conversational assistant for blockchain and crypto data",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	p, err := profile.FromEnv()
	if err != nil {
		return err
	}

	driver, err := openDriver(p)
	if err != nil {
		return err
	}
	st := store.New(driver)
	defer st.Close()

	ctx := context.Background()
	if err := st.EnsureTables(ctx); err != nil {
		return err
	}

	engine := llm.NewOpenAIEngine(p.AIAPIKey, p.AIBaseURL, p.AIModel)
	registry := tools.BuildRegistry(toolConfig(p), engine)
	groups, err := tools.LoadGroups(p.ToolGroupsPath)
	if err != nil {
		return err
	}

	srv := server.New(p, st, engine, registry, groups)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	slog.Info("chainchat started", "port", p.Port, "driver", p.Driver, "model", p.AIModel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
		return srv.Shutdown(ctx)
	}
}

func openDriver(p *profile.Profile) (store.Driver, error) {
	switch p.Driver {
	case "postgres":
		return postgres.New(p.DSN)
	case "mysql":
		return mysql.New(p.DSN)
	default:
		return sqlite.New(filepath.Join(p.Data, "chainchat.db"))
	}
}

func toolConfig(p *profile.Profile) tools.Config {
	portfolioAuth := ""
	if p.PortfolioAPIKey != "" {
		portfolioAuth = "Bearer " + p.PortfolioAPIKey
	}
	return tools.Config{
		WalletPortfolio: tools.ProviderConfig{
			SpecURI:    p.PortfolioSpecURI,
			BaseURL:    p.PortfolioBaseURL,
			AuthHeader: "Authorization",
			AuthValue:  portfolioAuth,
		},
		TokenMarket: tools.ProviderConfig{
			SpecURI:    p.MarketSpecURI,
			BaseURL:    p.MarketBaseURL,
			AuthHeader: "x-cg-api-key",
			AuthValue:  p.MarketAPIKey,
		},
		ChainExplorer: tools.ProviderConfig{
			SpecURI:    p.ExplorerSpecURI,
			BaseURL:    p.ExplorerBaseURL,
			AuthHeader: "X-API-Key",
			AuthValue:  p.ExplorerAPIKey,
		},
		DefiStats: tools.ProviderConfig{
			SpecURI: p.DefiSpecURI,
			BaseURL: p.DefiBaseURL,
		},
		ChainStats: tools.ProviderConfig{
			SpecURI: p.ChainStatsSpecURI,
			BaseURL: p.ChainStatsBaseURL,
		},
		SearchAPIKey: p.SearchAPIKey,
	}
}
