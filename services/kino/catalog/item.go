// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog holds the read-only movie catalog the recommender scores.
//
// The catalog is loaded once at startup (from the TMDB 5000 CSV export,
// locally or from a gs:// object) and shared by every session without
// locking. Nothing in this package mutates an Item after construction.
package catalog

import (
	"math"
	"strconv"
	"strings"
)

// Item is one catalog entry.
//
// Description:
//
//	SearchText is title, genres, keywords and overview joined by single
//	spaces. Lowercase copies of SearchText and of each genre are computed
//	once in NewItem so scoring never lowercases per call.
//
// Thread Safety: Immutable after NewItem. Safe to share across goroutines.
type Item struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	ReleaseYear *int     `json:"releaseYear,omitempty"`
	Overview    string   `json:"overview"`
	Genres      []string `json:"genres"`
	Keywords    []string `json:"keywords"`
	Popularity  float64  `json:"popularity"`
	SearchText  string   `json:"-"`

	searchLower string
	genresLower []string
}

// NewItem builds an Item, copying the slices and clamping popularity.
//
// Inputs:
//   - id: Source identifier (TMDB id).
//   - title: Display title.
//   - year: Release year, nil when unknown.
//   - overview: Synopsis, may be empty.
//   - genres: Catalog-language genre names.
//   - keywords: Catalog-language keywords.
//   - popularity: Popularity score. Negative or NaN becomes 0.
//
// Outputs:
//   - *Item: The constructed item.
func NewItem(id int64, title string, year *int, overview string, genres, keywords []string, popularity float64) *Item {
	if math.IsNaN(popularity) || popularity < 0 {
		popularity = 0
	}
	if math.IsInf(popularity, 1) {
		popularity = math.MaxFloat64
	}

	it := &Item{
		ID:         id,
		Title:      title,
		Overview:   overview,
		Genres:     append([]string(nil), genres...),
		Keywords:   append([]string(nil), keywords...),
		Popularity: popularity,
	}
	if year != nil {
		y := *year
		it.ReleaseYear = &y
	}

	it.SearchText = strings.Join([]string{
		title,
		strings.Join(it.Genres, " "),
		strings.Join(it.Keywords, " "),
		overview,
	}, " ")
	it.searchLower = strings.ToLower(it.SearchText)

	it.genresLower = make([]string, len(it.Genres))
	for i, g := range it.Genres {
		it.genresLower[i] = strings.ToLower(strings.TrimSpace(g))
	}
	return it
}

// SearchTextLower returns the lowercase search text.
func (it *Item) SearchTextLower() string {
	return it.searchLower
}

// HasGenre reports whether the item carries genre. genre must already be
// lowercase and trimmed.
func (it *Item) HasGenre(genre string) bool {
	for _, g := range it.genresLower {
		if g == genre {
			return true
		}
	}
	return false
}

// YearLabel returns the release year as text, or "ano desconhecido".
func (it *Item) YearLabel() string {
	if it.ReleaseYear == nil {
		return "ano desconhecido"
	}
	return strconv.Itoa(*it.ReleaseYear)
}
