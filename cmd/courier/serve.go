package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"courier/internal/agent"
	"courier/internal/config"
	"courier/internal/db"
	"courier/internal/gateway"
	"courier/internal/history"
	"courier/internal/llm"
	"courier/internal/session"
	"courier/internal/tools"
	"courier/internal/trace"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if serveAddr != "" {
			cfg.Gateway.Addr = serveAddr
		}

		if cfg.Trace.Enabled {
			shutdown, err := trace.Init(ctx, trace.Config{
				Endpoint: cfg.Trace.Endpoint,
				URLPath:  cfg.Trace.URLPath,
				APIKey:   cfg.Trace.APIKey,
			})
			if err != nil {
				return fmt.Errorf("initializing tracing: %w", err)
			}
			defer shutdown(context.Background())
		}

		database, err := db.Open(cfg.DB.Path)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		if err := database.Migrate(); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}

		store := history.NewStore(database)

		llmCfg, ok := cfg.LLMs[cfg.DefaultLLM]
		if !ok {
			return fmt.Errorf("default LLM %q not found in config", cfg.DefaultLLM)
		}
		provider := llm.NewOpenAI(llmCfg.BaseURL, llmCfg.APIKey, llmCfg.Model)

		registry := agent.NewRegistry()
		if cfg.Services.Brave.APIKey != "" {
			registry.Register(tools.NewWeb(cfg.Services.Brave.APIKey))
		}

		catalog := agent.NewCatalog(provider, store, registry)
		sessions := session.NewRegistry(catalog)

		srv := gateway.NewServer(catalog, sessions)
		slog.Info("starting relay", "addr", cfg.Gateway.Addr, "agents", len(catalog.Descriptors()))
		return srv.ListenAndServe(ctx, cfg.Gateway.Addr)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "override listen address")
}
