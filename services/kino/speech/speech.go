// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package speech holds the audio collaborators of a Kino turn: transcription
// of the user's recording and synthesis of the spoken reply.
//
// Both talk to OpenAI-compatible HTTP endpoints, which local servers such as
// faster-whisper-server and edge-tts bridges expose as well as the hosted API.
package speech

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// Transcriber converts recorded audio into text.
//
// An empty string with a nil error means nothing intelligible was heard.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer voices a reply and returns a reference the client can fetch,
// typically a URL path under the static audio directory.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

var tracer = otel.Tracer("kino.speech")

var (
	speechDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kino",
		Subsystem: "speech",
		Name:      "duration_seconds",
		Help:      "Latency of speech service calls.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation", "status"})

	speechBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kino",
		Subsystem: "speech",
		Name:      "audio_bytes_total",
		Help:      "Audio bytes received for transcription or produced by synthesis.",
	}, []string{"operation"})
)

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	speechDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}
