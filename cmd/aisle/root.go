// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root aisle command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aisle",
		Short:         "Aisle — AI shopping assistant",
		Long:          "Aisle is an AI shopping assistant: a tool-calling agent over a product catalog with semantic search and a persistent cart.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newStartCmd(),
		newReindexCmd(),
		newVersionCmd(),
	)

	return root
}
