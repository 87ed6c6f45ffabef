// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("kino.routing")

var (
	// classifierTotal counts classifications.
	//
	// Labels:
	//   - outcome: "movie", "chat", "unrecognized", "empty", "error"
	classifierTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kino",
		Subsystem: "intent",
		Name:      "classifications_total",
		Help:      "Intent classifications by outcome.",
	}, []string{"outcome"})

	classifierLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kino",
		Subsystem: "intent",
		Name:      "latency_seconds",
		Help:      "Intent classification latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// extractorAttemptsTotal counts individual extraction attempts.
	//
	// Labels:
	//   - result: "success", "parse_error", "service_error"
	extractorAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kino",
		Subsystem: "filter",
		Name:      "attempts_total",
		Help:      "Filter extraction attempts by result.",
	}, []string{"result"})

	// extractorTotal counts Extract calls.
	//
	// Labels:
	//   - outcome: "success", "failed", "canceled"
	extractorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kino",
		Subsystem: "filter",
		Name:      "extractions_total",
		Help:      "Filter extractions by final outcome.",
	}, []string{"outcome"})

	extractorAttemptsPerCall = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kino",
		Subsystem: "filter",
		Name:      "attempts_per_extraction",
		Help:      "Attempts used per filter extraction.",
		Buckets:   []float64{1, 2, 3, 4, 5},
	})

	extractorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kino",
		Subsystem: "filter",
		Name:      "latency_seconds",
		Help:      "Total filter extraction latency including retries.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
