// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package interactions persists one record per completed turn.
//
// Recording is best effort: a failing sink never affects the reply. Multi
// fans a record out to every configured sink and only logs their errors.
package interactions

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Interaction is the record of one completed turn.
type Interaction struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"sessionId"`
	Timestamp      time.Time     `json:"timestamp"`
	Utterance      string        `json:"utterance"`
	Intent         agent.Intent  `json:"intent"`
	Technical      string        `json:"technical"`
	Reply          string        `json:"reply"`
	Shape          string        `json:"shape,omitempty"`
	SelectedTitle  string        `json:"selectedTitle,omitempty"`
	Score          float64       `json:"score"`
	CandidateCount int           `json:"candidateCount"`
	Duration       time.Duration `json:"duration"`
}

// TechnicalSummary renders the technical column of the interaction log.
//
// Movie turns yield "Filtros: <filter json> | Score: <score>", chat turns
// "Chat Casual".
func TechnicalSummary(intent agent.Intent, filter agent.QueryFilter, score float64) string {
	if intent != agent.IntentMovie {
		return "Chat Casual"
	}
	return fmt.Sprintf("Filtros: %s | Score: %s", filter.String(), strconv.FormatFloat(score, 'f', -1, 64))
}

// intentLabel is the Portuguese intent label written to the CSV log.
func intentLabel(i agent.Intent) string {
	if i == agent.IntentMovie {
		return "filme"
	}
	return "conversa"
}

// Recorder persists interactions.
type Recorder interface {
	Record(ctx context.Context, in Interaction) error
}

var recordErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "kino",
	Subsystem: "interactions",
	Name:      "record_errors_total",
	Help:      "Interaction records that a sink failed to persist.",
}, []string{"sink"})

// Named is a Recorder with a label for logs and metrics.
type Named struct {
	Name     string
	Recorder Recorder
}

// Multi fans records out to several sinks.
//
// Thread Safety: Safe for concurrent use if every sink is.
type Multi struct {
	sinks  []Named
	logger *slog.Logger
}

// NewMulti creates a Multi. Nil recorders are skipped.
func NewMulti(sinks ...Named) *Multi {
	m := &Multi{logger: slog.Default()}
	for _, s := range sinks {
		if s.Recorder != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Record writes to every sink. It always returns nil; failures are logged
// and counted.
func (m *Multi) Record(ctx context.Context, in Interaction) error {
	for _, s := range m.sinks {
		if err := s.Recorder.Record(ctx, in); err != nil {
			recordErrors.WithLabelValues(s.Name).Inc()
			m.logger.Warn("Failed to record interaction",
				slog.String("sink", s.Name),
				slog.String("interaction_id", in.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
