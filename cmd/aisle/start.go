// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aisle-dev/aisle/internal/config"
	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the aisle server",
		Long:  "Load configuration, wire all subsystems, load or build the catalog index, and serve HTTP until interrupted.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("networking.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if listen := viper.GetString("networking.listen"); listen != "" {
		cfg.Networking.Listen = listen
	}

	logger := newLogger(verbose)

	app, err := wireApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load-else-build: persisted state makes restarts cheap, a cold start
	// fetches the catalog and embeds it before serving traffic.
	if err := app.Catalog.Initialize(ctx); err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeCLISetupFailure, "initializing catalog")
	}

	logger.Info("starting aisle",
		"listen", cfg.Networking.Listen,
		"model", cfg.Models.Chat,
		"products", app.Catalog.Len())

	return app.Server.Start(ctx)
}
