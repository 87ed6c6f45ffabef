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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/kino/services/kino/interactions"
	badgerstore "github.com/AleutianAI/kino/services/kino/storage/badger"
	"github.com/spf13/cobra"
)

func newInteractionsCmd() *cobra.Command {
	var (
		path   string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "interactions",
		Short: "Dump recorded turns from the interaction store",
		Long: `Opens the server's Badger interaction store read-only and prints the
most recent turns, newest first. Stop the server first: Badger holds an
exclusive lock on its directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = os.Getenv("KINO_INTERACTIONS_PATH")
			}
			if path == "" {
				return fmt.Errorf("--path is required (or set KINO_INTERACTIONS_PATH)")
			}
			return dumpInteractions(cmd.Context(), cmd.OutOrStdout(), path, limit, asJSON)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Badger interaction store directory")
	cmd.Flags().IntVar(&limit, "limit", interactions.DefaultRecentLimit, "Turns to print")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON lines")
	return cmd
}

func dumpInteractions(ctx context.Context, w io.Writer, path string, limit int, asJSON bool) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(w, "Interaction store %s does not exist. The server has not recorded any turns.\n", path)
		return nil
	}

	cfg := badgerstore.DefaultConfig()
	cfg.Path = path
	cfg.ReadOnly = true
	db, err := badgerstore.OpenDB(cfg)
	if err != nil {
		return fmt.Errorf("opening interaction store %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	recent, err := interactions.NewBadgerStore(db, 0).Recent(ctx, limit)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(w)
		for _, in := range recent {
			if err := enc.Encode(in); err != nil {
				return err
			}
		}
		return nil
	}

	s := newStyles(w)
	if len(recent) == 0 {
		fmt.Fprintln(w, s.Muted.Render("No recorded turns."))
		return nil
	}
	for _, in := range recent {
		header := fmt.Sprintf("%s  %s  %s",
			in.Timestamp.Local().Format("2006-01-02 15:04:05"),
			in.Intent,
			in.Shape,
		)
		fmt.Fprintln(w, s.Title.Render(header))
		fmt.Fprintf(w, "  %s %s\n", s.Label.Render("user:"), in.Utterance)
		fmt.Fprintf(w, "  %s %s\n", s.Label.Render("kino:"), oneLine(in.Reply, 160))
		fmt.Fprintf(w, "  %s\n", s.Muted.Render(in.Technical))
	}
	fmt.Fprintf(w, "\n%d turn(s) from %s\n", len(recent), path)
	return nil
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}
