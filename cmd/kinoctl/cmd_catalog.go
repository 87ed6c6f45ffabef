// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/AleutianAI/kino/services/kino/catalog"
	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the movie dataset",
	}

	var (
		catalogPath string
		genres      int
		asJSON      bool
	)
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print item, year and genre counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(cmd.Context(), catalogPath)
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), cat.Stats(), genres, asJSON)
		},
	}
	stats.Flags().StringVar(&catalogPath, "catalog", catalogPathDefault(), "Catalog CSV path or gs:// URL")
	stats.Flags().IntVar(&genres, "genres", 10, "Genres to list")
	stats.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	cmd.AddCommand(stats)
	return cmd
}

func printStats(w io.Writer, st catalog.Stats, genres int, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	s := newStyles(w)
	fmt.Fprintln(w, s.Title.Render("Catalog "+st.Source))
	fmt.Fprintf(w, "%s %d\n", s.Label.Render("items:"), st.Items)
	if st.WithYear > 0 {
		fmt.Fprintf(w, "%s %d (%d-%d)\n", s.Label.Render("with year:"), st.WithYear, st.MinYear, st.MaxYear)
	} else {
		fmt.Fprintf(w, "%s 0\n", s.Label.Render("with year:"))
	}

	if genres <= 0 || genres > len(st.Genres) {
		genres = len(st.Genres)
	}
	if genres == 0 {
		return nil
	}
	fmt.Fprintln(w, s.Label.Render("genres:"))
	for _, g := range st.Genres[:genres] {
		fmt.Fprintf(w, "  %-20s %d\n", g.Genre, g.Count)
	}
	return nil
}
