// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recommend

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/AleutianAI/kino/services/kino/catalog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scoring weights.
const (
	GenreWeight      = 500.0
	KeywordWeight    = 1000.0
	PopularityWeight = 2.0

	// TopN is the maximum number of candidates returned.
	TopN = 5
)

var (
	scoreDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kino",
		Subsystem: "recommend",
		Name:      "score_duration_seconds",
		Help:      "Time spent scoring the catalog for one filter.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	bestScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kino",
		Subsystem: "recommend",
		Name:      "best_score",
		Help:      "Score of the top candidate per scoring call.",
		Buckets:   []float64{0, 25, 50, 500, 510, 1000, 1010, 1500, 1520},
	})

	matchedItems = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kino",
		Subsystem: "recommend",
		Name:      "matched_items",
		Help:      "Number of catalog items with a positive score per call.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
)

// ScoredCandidate is a catalog item with its score for one query.
type ScoredCandidate struct {
	Item  *catalog.Item `json:"item"`
	Score float64       `json:"score"`
}

// Scorer ranks catalog items against a QueryFilter.
//
// Description:
//
//	Every item starts at 0. Items whose genres contain the (alias-mapped)
//	filter genre get GenreWeight. Items whose search text contains any
//	keyword as a literal, case-insensitive substring get KeywordWeight once.
//	Items with a positive score then get PopularityWeight*ln(1+popularity).
//	Results are sorted by score descending with ties kept in catalog order,
//	and the first TopN are returned.
//
//	Year bounds on the filter are not applied.
//
// Thread Safety: Safe for concurrent use. Never mutates the catalog.
type Scorer struct {
	aliases *GenreAliases
}

// NewScorer creates a Scorer. A nil aliases uses the embedded table.
func NewScorer(aliases *GenreAliases) *Scorer {
	if aliases == nil {
		aliases = DefaultGenreAliases()
	}
	return &Scorer{aliases: aliases}
}

// Score ranks cat against f.
//
// Outputs:
//   - []ScoredCandidate: min(TopN, cat.Len()) candidates, highest score first.
//     Zero-score items are included when fewer than TopN items matched.
func (s *Scorer) Score(cat *catalog.Catalog, f agent.QueryFilter) []ScoredCandidate {
	start := time.Now()
	defer func() { scoreDuration.Observe(time.Since(start).Seconds()) }()

	items := cat.Items()
	if len(items) == 0 {
		return nil
	}

	var genre string
	if g := f.GenreValue(); strings.TrimSpace(g) != "" {
		genre = s.aliases.Snapshot().Resolve(g)
	}
	keywords := lowerKeywords(f.Keywords)

	scored := make([]ScoredCandidate, len(items))
	matched := 0
	for i, it := range items {
		score := 0.0
		if genre != "" && it.HasGenre(genre) {
			score += GenreWeight
		}
		if len(keywords) > 0 && containsAny(it.SearchTextLower(), keywords) {
			score += KeywordWeight
		}
		if score > 0 {
			score += PopularityWeight * math.Log1p(it.Popularity)
			matched++
		}
		scored[i] = ScoredCandidate{Item: it, Score: score}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	n := TopN
	if len(scored) < n {
		n = len(scored)
	}
	top := make([]ScoredCandidate, n)
	copy(top, scored[:n])

	matchedItems.Observe(float64(matched))
	bestScore.Observe(top[0].Score)
	return top
}

// Best returns the first candidate, if any.
func (s *Scorer) Best(cands []ScoredCandidate) (ScoredCandidate, bool) {
	if len(cands) == 0 {
		return ScoredCandidate{}, false
	}
	return cands[0], true
}

func lowerKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
