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
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/AleutianAI/kino/services/kino/catalog"
	"github.com/AleutianAI/kino/services/kino/compose"
	"github.com/AleutianAI/kino/services/kino/recommend"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

const defaultCatalogPath = "data/tmdb_5000_movies.csv"

func catalogPathDefault() string {
	if p := os.Getenv("KINO_CATALOG_PATH"); p != "" {
		return p
	}
	return defaultCatalogPath
}

func loadCatalog(ctx context.Context, path string) (*catalog.Catalog, error) {
	items, err := catalog.NewCSVLoader(path).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading catalog %s: %w", path, err)
	}
	return catalog.New(path, items), nil
}

func newRecommendCmd() *cobra.Command {
	var (
		catalogPath string
		aliasesPath string
		genre       string
		keywords    []string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Score the catalog against a filter without the reasoning service",
		Long: `Runs the same scorer the server uses and prints the ranked candidates
and the reply shape the server would pick for the best one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := agent.NewQueryFilter(genre, keywords, nil, nil)
			if f.IsEmpty() {
				return fmt.Errorf("at least one of --genre or --keyword is required")
			}
			cat, err := loadCatalog(cmd.Context(), catalogPath)
			if err != nil {
				return err
			}
			aliases, err := recommend.LoadGenreAliases(aliasesPath)
			if err != nil {
				return err
			}
			return runRecommend(cmd.OutOrStdout(), recommend.NewScorer(aliases), cat, f, limit)
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", catalogPathDefault(), "Catalog CSV path or gs:// URL")
	cmd.Flags().StringVar(&aliasesPath, "aliases", "", "Genre alias override file")
	cmd.Flags().StringVar(&genre, "genre", "", "Genre in Portuguese, e.g. ação")
	cmd.Flags().StringSliceVar(&keywords, "keyword", nil, "Keyword (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", recommend.TopN, "Candidates to print")
	return cmd
}

func runRecommend(w io.Writer, scorer *recommend.Scorer, cat *catalog.Catalog, f agent.QueryFilter, limit int) error {
	st := newStyles(w)
	cands := scorer.Score(cat, f)

	var shape compose.Shape
	if best, ok := scorer.Best(cands); ok {
		shape = compose.SelectShape(agent.IntentMovie, &best)
	} else {
		shape = compose.SelectShape(agent.IntentMovie, nil)
	}

	summary := fmt.Sprintf("%s %s\n%s %s\n%s %s",
		st.Label.Render("genre:"), valueOrDash(f.GenreValue()),
		st.Label.Render("keywords:"), valueOrDash(strings.Join(f.Keywords, ", ")),
		st.Label.Render("shape:"), shapeStyle(st, shape).Render(string(shape)),
	)
	fmt.Fprintln(w, st.Box.Render(summary))

	if limit <= 0 || limit > len(cands) {
		limit = len(cands)
	}
	for i, c := range cands[:limit] {
		score := strconv.FormatFloat(c.Score, 'f', 2, 64)
		line := fmt.Sprintf("%2d. %-40s %6s  %s", i+1, c.Item.Title, score, c.Item.YearLabel())
		if c.Score == 0 {
			line = st.Muted.Render(line)
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func shapeStyle(st styles, shape compose.Shape) lipgloss.Style {
	switch shape {
	case compose.ShapeConfident:
		return st.Good
	case compose.ShapeFallback:
		return st.Warn
	default:
		return st.Bad
	}
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
