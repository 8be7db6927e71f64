// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aisle-dev/aisle/internal/agent"
	"github.com/aisle-dev/aisle/internal/cart"
	"github.com/aisle-dev/aisle/internal/catalog"
	"github.com/aisle-dev/aisle/internal/config"
	"github.com/aisle-dev/aisle/internal/history"
	"github.com/aisle-dev/aisle/internal/provider"
	anthropicprov "github.com/aisle-dev/aisle/internal/provider/anthropic"
	openaiprov "github.com/aisle-dev/aisle/internal/provider/openai"
	"github.com/aisle-dev/aisle/internal/server"
	"github.com/aisle-dev/aisle/internal/tools"
	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Server    *server.Server
	Catalog   *catalog.Store
	Carts     *cart.Store
	History   *history.Store
	Providers *provider.Registry
	Logger    *slog.Logger
}

// Close releases every resource the app holds.
func (a *App) Close() error {
	var errs []error
	if err := a.Carts.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.History.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Providers.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return aisleerr.Join(errs...)
}

// wireApp creates all subsystems and wires them together. The catalog is not
// initialized here; callers decide between load-from-disk and full refresh.
func wireApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	dataDir := cfg.Storage.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, aisleerr.Errorf(aisleerr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	providers := provider.NewRegistry()
	if err := registerProviders(cfg, providers); err != nil {
		return nil, err
	}

	embedder, err := resolveEmbedder(cfg, providers)
	if err != nil {
		return nil, err
	}

	store := catalog.NewStore(
		catalog.NewClient(cfg.Catalog.BaseURL),
		embedder,
		filepath.Join(dataDir, "index"),
		logger,
	)

	carts, err := cart.Open(filepath.Join(dataDir, "cart.db"))
	if err != nil {
		return nil, err
	}

	hist, err := history.Open(filepath.Join(dataDir, "history.db"))
	if err != nil {
		_ = carts.Close()
		return nil, err
	}

	registry := tools.NewShoppingRegistry(store, carts, tools.Limits{
		SearchDefault: cfg.Limits.SearchDefault,
		SearchMax:     cfg.Limits.SearchMax,
	}, cfg.Agent.ToolTimeout)

	loop := agent.New(providers, registry, hist, agent.Config{
		Model:         cfg.Models.Chat,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		MaxIterations: cfg.Agent.MaxIterations,
		HistoryWindow: cfg.Agent.HistoryWindow,
		Temperature:   cfg.Agent.Temperature,
		MaxTokens:     cfg.Agent.MaxTokens,
	}, logger)

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Networking.Listen,
		CORSOrigins: cfg.Networking.CORSOrigins,
	}, server.Deps{
		Loop:    loop,
		Catalog: store,
		Logger:  logger,
	})
	if err != nil {
		_ = carts.Close()
		_ = hist.Close()
		return nil, err
	}

	return &App{
		Server:    srv,
		Catalog:   store,
		Carts:     carts,
		History:   hist,
		Providers: providers,
		Logger:    logger,
	}, nil
}

// registerProviders registers every provider that has credentials configured.
func registerProviders(cfg *config.Config, registry *provider.Registry) error {
	if pc, ok := cfg.Providers["openai"]; ok && pc.APIKey != "" {
		p, err := openaiprov.New(openaiprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
		if err != nil {
			return aisleerr.Wrap(err, aisleerr.CodeCLISetupFailure, "configuring openai provider")
		}
		registry.Register("openai", p)
	}
	if pc, ok := cfg.Providers["anthropic"]; ok && pc.APIKey != "" {
		p, err := anthropicprov.New(anthropicprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint})
		if err != nil {
			return aisleerr.Wrap(err, aisleerr.CodeCLISetupFailure, "configuring anthropic provider")
		}
		registry.Register("anthropic", p)
	}
	return nil
}

// resolveEmbedder picks the embedding provider named in config. The provider
// must expose an embedding endpoint.
func resolveEmbedder(cfg *config.Config, registry *provider.Registry) (provider.Embedder, error) {
	prov, err := registry.Get(cfg.Models.Embedding)
	if err != nil {
		return nil, aisleerr.Wrapf(err, aisleerr.CodeCLISetupFailure,
			"embedding provider %q is not configured", cfg.Models.Embedding)
	}

	embedder, ok := prov.(provider.Embedder)
	if !ok {
		return nil, aisleerr.Errorf(aisleerr.CodeCLISetupFailure,
			"provider %q has no embedding endpoint", cfg.Models.Embedding)
	}
	return embedder, nil
}

// newLogger builds the process logger. Verbose switches to debug level.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
