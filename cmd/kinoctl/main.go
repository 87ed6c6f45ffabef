// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command kinoctl is the operator CLI for Kino.
//
// Usage:
//
//	kinoctl recommend --catalog movies.csv --genre ação --keyword espaço
//	kinoctl catalog stats --catalog gs://bucket/movies.csv
//	kinoctl interactions --path /var/lib/kino/interactions --limit 20
//	kinoctl chat --server ws://localhost:8000/ws
//	kinoctl config init -o /etc/kino/kino.yaml
//
// recommend and catalog work offline against the dataset. interactions
// opens the server's Badger store read-only, so the server must be stopped.
// chat types turns into a running server over the websocket channel.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var noColor bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kinoctl",
		Short:         "Inspect and exercise a Kino movie assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		newRecommendCmd(),
		newCatalogCmd(),
		newInteractionsCmd(),
		newChatCmd(),
		newConfigCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
