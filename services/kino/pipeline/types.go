// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs Kino conversation turns.
//
// A turn moves a session through receiving, transcription, intent routing,
// the movie or chat flow, reply composition and synthesis, and always ends
// back in idle whatever fails along the way.
package pipeline

import (
	"context"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/AleutianAI/kino/services/kino/catalog"
	"github.com/AleutianAI/kino/services/kino/compose"
	"github.com/AleutianAI/kino/services/kino/recommend"
)

// Client-visible states emitted during an audio turn.
const (
	EmitThinking = "thinking"
	EmitIdle     = "idle"
)

// IntentClassifier routes an utterance. Implemented by routing.IntentClassifier.
type IntentClassifier interface {
	Classify(ctx context.Context, utterance string) agent.Intent
}

// FilterExtractor extracts search criteria. Implemented by routing.FilterExtractor.
type FilterExtractor interface {
	Extract(ctx context.Context, utterance string) (agent.QueryFilter, error)
}

// CandidateScorer ranks the catalog. Implemented by recommend.Scorer.
type CandidateScorer interface {
	Score(cat *catalog.Catalog, f agent.QueryFilter) []recommend.ScoredCandidate
	Best(cands []recommend.ScoredCandidate) (recommend.ScoredCandidate, bool)
}

// ReplyComposer writes replies. Implemented by compose.Composer.
type ReplyComposer interface {
	Chat(ctx context.Context, history []agent.Turn, utterance string) string
	Recommend(ctx context.Context, history []agent.Turn, utterance string, best *recommend.ScoredCandidate) (string, compose.Shape)
}

// CatalogSource returns the catalog to score against. Implemented by
// catalog.Holder.
type CatalogSource interface {
	Catalog() *catalog.Catalog
}

// Emitter delivers turn progress to the client.
//
// An error means the channel is gone; the orchestrator stops emitting but
// still returns the session to idle.
type Emitter interface {
	State(ctx context.Context, value string) error
	Transcript(ctx context.Context, text string) error
	Reply(ctx context.Context, result TurnResult) error
}

// DebugInfo is the per-turn diagnostic payload sent alongside a reply.
type DebugInfo struct {
	Intent           agent.Intent      `json:"intent"`
	ExtractedFilters agent.QueryFilter `json:"extractedFilters"`
	CandidateCount   int               `json:"candidateCount"`
	SelectedTitle    *string           `json:"selectedTitle"`
	Score            float64           `json:"score"`
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	SessionID string        `json:"sessionId"`
	Utterance string        `json:"utterance"`
	Reply     string        `json:"reply"`
	AudioURL  string        `json:"audioUrl,omitempty"`
	Shape     compose.Shape `json:"shape"`
	Debug     DebugInfo     `json:"debug"`
	Duration  time.Duration `json:"duration"`
}

// Selected returns the recommended title, or "" when none was selected.
func (r TurnResult) Selected() string {
	if r.Debug.SelectedTitle == nil {
		return ""
	}
	return *r.Debug.SelectedTitle
}
