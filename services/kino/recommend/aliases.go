// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recommend scores catalog items against a query filter.
package recommend

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

//go:embed genre_aliases.yaml
var defaultAliasesYAML []byte

// AliasTable maps a lowercase source-language genre to a lowercase catalog genre.
// A table is never modified after it is published.
type AliasTable map[string]string

// Resolve maps genre through the table. genre is lowercased and trimmed
// first; unmapped genres pass through.
func (t AliasTable) Resolve(genre string) string {
	key := strings.ToLower(strings.TrimSpace(genre))
	if mapped, ok := t[key]; ok {
		return mapped
	}
	return key
}

// GenreAliases holds the current alias table.
//
// Description:
//
//	The embedded defaults are always loaded. An optional override file
//	(YAML, or JSON since JSON is valid YAML) adds or replaces entries and
//	can be hot-reloaded with Watch. Readers take a Snapshot per scoring
//	call, so a reload never changes the table mid-call.
//
// Thread Safety: Safe for concurrent use.
type GenreAliases struct {
	table atomic.Pointer[AliasTable]
	path  string
}

// DefaultGenreAliases returns the embedded table.
func DefaultGenreAliases() *GenreAliases {
	g := &GenreAliases{}
	table, err := parseAliases(defaultAliasesYAML)
	if err != nil {
		// The embedded file is part of the build; a parse failure is a build defect.
		panic(fmt.Sprintf("recommend: embedded genre_aliases.yaml: %v", err))
	}
	g.table.Store(&table)
	return g
}

// LoadGenreAliases loads the embedded defaults merged with the file at path.
//
// Inputs:
//   - path: Override file. Empty means defaults only.
//
// Outputs:
//   - *GenreAliases: The loaded table.
//   - error: Non-nil if the override file cannot be read or parsed.
func LoadGenreAliases(path string) (*GenreAliases, error) {
	g := DefaultGenreAliases()
	g.path = path
	if path == "" {
		return g, nil
	}
	if err := g.Reload(); err != nil {
		return nil, err
	}
	return g, nil
}

// Snapshot returns the current table.
func (g *GenreAliases) Snapshot() AliasTable {
	return *g.table.Load()
}

// Len returns the number of entries in the current table.
func (g *GenreAliases) Len() int {
	return len(g.Snapshot())
}

// Reload re-reads the override file and atomically publishes the merged table.
// On error the current table is kept.
func (g *GenreAliases) Reload() error {
	if g.path == "" {
		return nil
	}
	data, err := os.ReadFile(g.path)
	if err != nil {
		return fmt.Errorf("reading genre aliases %s: %w", g.path, err)
	}
	overrides, err := parseAliases(data)
	if err != nil {
		return fmt.Errorf("parsing genre aliases %s: %w", g.path, err)
	}

	base, err := parseAliases(defaultAliasesYAML)
	if err != nil {
		return err
	}
	for k, v := range overrides {
		base[k] = v
	}
	g.table.Store(&base)

	slog.Info("Genre aliases loaded",
		slog.String("path", g.path),
		slog.Int("overrides", len(overrides)),
		slog.Int("entries", len(base)),
	)
	return nil
}

// Watch reloads the override file when it changes, until ctx is done.
//
// Description:
//
//	Watches the file's directory so editors that replace the file on save
//	are handled. Events are debounced. Reload failures are logged and the
//	previous table stays active.
//
// Outputs:
//   - error: Non-nil if the watcher cannot be started. Returns nil when ctx ends.
func (g *GenreAliases) Watch(ctx context.Context) error {
	if g.path == "" {
		return errors.New("genre aliases: no override file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating genre alias watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(g.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(g.path), err)
	}

	target := filepath.Clean(g.path)
	const debounce = 200 * time.Millisecond
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Genre alias watcher error", slog.String("error", err.Error()))

		case <-fire:
			fire = nil
			if err := g.Reload(); err != nil {
				slog.Warn("Genre alias reload failed, keeping previous table",
					slog.String("error", err.Error()))
			}
		}
	}
}

func parseAliases(data []byte) (AliasTable, error) {
	raw := make(map[string]string)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	table := make(AliasTable, len(raw))
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		val := strings.ToLower(strings.TrimSpace(v))
		if key == "" || val == "" {
			continue
		}
		table[key] = val
	}
	return table, nil
}
