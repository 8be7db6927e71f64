// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aisle-dev/aisle/internal/config"
)

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the catalog search index",
		Long:  "Fetch the catalog from upstream, re-embed every product, and persist the rebuilt index. The server picks it up on next start.",
		RunE:  runReindex,
	}
}

func runReindex(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	app, err := wireApp(cfg, newLogger(verbose))
	if err != nil {
		return err
	}
	defer app.Close() //nolint:errcheck

	if err := app.Catalog.Refresh(cmd.Context()); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "indexed %d products\n", app.Catalog.Len())
	return err
}
