// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// chatTracerName is the shared OTel tracer name for all ChatClient adapters.
const chatTracerName = "kino.providers"

var (
	// chatCallDuration measures the duration of ChatClient API calls.
	//
	// Labels:
	//   - provider: "anthropic", "openai", "gemini", "ollama", "langchain"
	//   - status: "success" or "error"
	chatCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kino",
			Subsystem: "chat",
			Name:      "call_duration_seconds",
			Help:      "Duration of ChatClient API calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "status"},
	)

	chatCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kino",
			Subsystem: "chat",
			Name:      "calls_total",
			Help:      "Total number of ChatClient API calls.",
		},
		[]string{"provider", "status"},
	)

	// chatErrorsTotal counts ChatClient errors by type.
	//
	// Labels:
	//   - error_type: "timeout", "auth", "rate_limit", "server", "nil_client", "unknown"
	chatErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kino",
			Subsystem: "chat",
			Name:      "errors_total",
			Help:      "Total ChatClient errors by type.",
		},
		[]string{"provider", "error_type"},
	)

	// guardQueueWait measures how long a call waited for a reasoning slot.
	guardQueueWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kino",
			Subsystem: "guard",
			Name:      "queue_wait_seconds",
			Help:      "Time spent waiting for a slot in the reasoning request queue.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
		},
		[]string{"client"},
	)

	// guardRejectedTotal counts calls rejected without reaching the provider.
	//
	// Labels:
	//   - reason: "breaker_open", "canceled"
	guardRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kino",
			Subsystem: "guard",
			Name:      "rejected_total",
			Help:      "Calls rejected by the guard before reaching the provider.",
		},
		[]string{"client", "reason"},
	)

	// guardBreakerState reports the circuit breaker state per client
	// (0 = closed, 1 = half-open, 2 = open).
	guardBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kino",
			Subsystem: "guard",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"client"},
	)
)

// classifyChatError maps an error to a label-safe error type string.
//
// Description:
//
//	Inspects the error message to categorize it into one of the predefined
//	error types. Used for Prometheus labels to avoid high cardinality.
//
// Outputs:
//
//	string - One of: "timeout", "auth", "rate_limit", "server",
//	         "nil_client", "unknown". Returns empty string for nil error.
func classifyChatError(err error) string {
	if err == nil {
		return ""
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "client is nil"):
		return "nil_client"
	case strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "status 401") ||
		strings.Contains(msg, "status 403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "api key"):
		return "auth"
	case strings.Contains(msg, "status 429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests"):
		return "rate_limit"
	case strings.Contains(msg, "status 500") ||
		strings.Contains(msg, "status 502") ||
		strings.Contains(msg, "status 503") ||
		strings.Contains(msg, "server error") ||
		strings.Contains(msg, "internal error"):
		return "server"
	default:
		return "unknown"
	}
}

// recordChatMetrics records Prometheus metrics for a completed ChatClient call.
func recordChatMetrics(provider string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		chatErrorsTotal.WithLabelValues(provider, classifyChatError(err)).Inc()
	}

	chatCallDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
	chatCallsTotal.WithLabelValues(provider, status).Inc()
}
