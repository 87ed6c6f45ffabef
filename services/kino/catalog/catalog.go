// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	catalogItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kino",
		Subsystem: "catalog",
		Name:      "items",
		Help:      "Number of items in the loaded catalog.",
	})

	catalogLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kino",
		Subsystem: "catalog",
		Name:      "load_duration_seconds",
		Help:      "Time spent loading the catalog.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"status"})
)

// Catalog is an ordered, read-only collection of items.
//
// Thread Safety: Immutable after construction. Safe for concurrent reads.
type Catalog struct {
	items    []*Item
	source   string
	loadedAt time.Time
}

// New builds a catalog over items in the given order. The slice is copied.
func New(source string, items []*Item) *Catalog {
	return &Catalog{
		items:    append([]*Item(nil), items...),
		source:   source,
		loadedAt: time.Now(),
	}
}

// Empty returns a catalog with no items.
func Empty() *Catalog {
	return New("empty", nil)
}

// Len returns the number of items.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// Items returns the items in catalog order. Callers must not modify the slice.
func (c *Catalog) Items() []*Item {
	if c == nil {
		return nil
	}
	return c.items
}

// Source names where the catalog came from.
func (c *Catalog) Source() string {
	return c.source
}

// Stats summarizes a catalog for the stats endpoint and CLI.
type Stats struct {
	Source   string       `json:"source"`
	Items    int          `json:"items"`
	WithYear int          `json:"withYear"`
	MinYear  int          `json:"minYear,omitempty"`
	MaxYear  int          `json:"maxYear,omitempty"`
	Genres   []GenreCount `json:"genres"`
	LoadedAt time.Time    `json:"loadedAt"`
}

// GenreCount is the number of items carrying a genre.
type GenreCount struct {
	Genre string `json:"genre"`
	Count int    `json:"count"`
}

// Stats computes summary statistics. Genres are sorted by count, then name.
func (c *Catalog) Stats() Stats {
	st := Stats{Source: c.source, Items: len(c.items), LoadedAt: c.loadedAt}
	counts := make(map[string]int)
	for _, it := range c.items {
		for _, g := range it.Genres {
			counts[g]++
		}
		if it.ReleaseYear == nil {
			continue
		}
		y := *it.ReleaseYear
		if st.WithYear == 0 || y < st.MinYear {
			st.MinYear = y
		}
		if st.WithYear == 0 || y > st.MaxYear {
			st.MaxYear = y
		}
		st.WithYear++
	}

	st.Genres = make([]GenreCount, 0, len(counts))
	for g, n := range counts {
		st.Genres = append(st.Genres, GenreCount{Genre: g, Count: n})
	}
	sort.Slice(st.Genres, func(i, j int) bool {
		if st.Genres[i].Count != st.Genres[j].Count {
			return st.Genres[i].Count > st.Genres[j].Count
		}
		return st.Genres[i].Genre < st.Genres[j].Genre
	})
	return st
}

// Loader produces catalog items.
type Loader interface {
	// Load reads every item. Order is preserved in the resulting catalog.
	Load(ctx context.Context) ([]*Item, error)

	// Source names the origin for logs and stats.
	Source() string
}

// LoadOrEmpty loads a catalog, degrading to an empty one on failure.
//
// Description:
//
//	A missing or unreadable dataset must not stop the service: every movie
//	turn then takes the not-found path. The returned error wraps
//	agent.ErrCatalogUnavailable so the caller can surface readiness, but
//	the catalog is always usable.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - loader: The item source.
//
// Outputs:
//   - *Catalog: The loaded catalog, or Empty() on failure. Never nil.
//   - error: Non-nil (wrapping agent.ErrCatalogUnavailable) on failure.
func LoadOrEmpty(ctx context.Context, loader Loader) (*Catalog, error) {
	start := time.Now()
	items, err := loader.Load(ctx)
	if err != nil {
		catalogLoadDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		catalogItems.Set(0)
		slog.Error("Catalog unavailable, continuing with an empty catalog",
			slog.String("source", loader.Source()),
			slog.String("error", err.Error()),
		)
		return Empty(), fmt.Errorf("loading catalog from %s: %w: %w", loader.Source(), agent.ErrCatalogUnavailable, err)
	}

	cat := New(loader.Source(), items)
	catalogLoadDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	catalogItems.Set(float64(cat.Len()))
	slog.Info("Catalog loaded",
		slog.String("source", loader.Source()),
		slog.Int("items", cat.Len()),
		slog.Duration("duration", time.Since(start)),
	)
	return cat, nil
}

// StaticLoader serves a fixed item list.
type StaticLoader struct {
	Name  string
	Items []*Item
}

// Load returns the fixed items.
func (s StaticLoader) Load(ctx context.Context) ([]*Item, error) {
	return s.Items, nil
}

// Source returns the loader name.
func (s StaticLoader) Source() string {
	if s.Name == "" {
		return "static"
	}
	return s.Name
}

// Holder publishes the current catalog to concurrent readers.
//
// The server starts with an empty catalog and swaps in the loaded one once
// background loading finishes. A zero Holder returns Empty().
type Holder struct {
	current atomic.Pointer[Catalog]
}

// NewHolder creates a holder publishing cat. A nil cat publishes Empty().
func NewHolder(cat *Catalog) *Holder {
	h := &Holder{}
	h.Store(cat)
	return h
}

// Catalog returns the current catalog. Never nil.
func (h *Holder) Catalog() *Catalog {
	if c := h.current.Load(); c != nil {
		return c
	}
	return Empty()
}

// Store replaces the current catalog.
func (h *Holder) Store(cat *Catalog) {
	if cat == nil {
		cat = Empty()
	}
	h.current.Store(cat)
}
