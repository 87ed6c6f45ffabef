// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("kino.pipeline")
	meter  = otel.Meter("kino.pipeline")
)

// turnsCompleted goes through the OpenTelemetry meter provider.
var turnsCompleted, _ = meter.Int64Counter("kino.turns.completed",
	metric.WithDescription("Completed turns by kind and response shape."),
	metric.WithUnit("{turn}"),
)

var (
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kino",
		Subsystem: "turn",
		Name:      "state_transitions_total",
		Help:      "Session state transitions by source and target state.",
	}, []string{"from", "to"})

	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kino",
		Subsystem: "turn",
		Name:      "duration_seconds",
		Help:      "End-to-end turn latency.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"kind", "shape"})

	turnErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kino",
		Subsystem: "turn",
		Name:      "errors_total",
		Help:      "Recovered turn errors by stage and error kind.",
	}, []string{"stage", "kind"})

	turnPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kino",
		Subsystem: "turn",
		Name:      "panics_total",
		Help:      "Turns aborted by a recovered panic.",
	})
)

// observeTurn records a completed turn in both metric pipelines.
func observeTurn(ctx context.Context, kind string, result TurnResult) {
	turnDuration.WithLabelValues(kind, string(result.Shape)).Observe(result.Duration.Seconds())
	turnsCompleted.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("shape", string(result.Shape)),
	))
}
