// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Warmup tracks whether startup work (catalog load, model warmup) is done.
//
// Thread Safety: Safe for concurrent use.
type Warmup struct {
	done atomic.Bool
}

// NewWarmup returns a Warmup in the not-complete state.
func NewWarmup() *Warmup { return &Warmup{} }

// MarkComplete marks warmup as finished. Idempotent.
func (w *Warmup) MarkComplete() { w.done.Store(true) }

// IsComplete reports whether warmup has finished.
func (w *Warmup) IsComplete() bool { return w.done.Load() }

// WarmupGuardMiddleware returns 503 Service Unavailable for turn endpoints
// until warmup completes.
//
// Description:
//
//	Health and readiness stay reachable so orchestrators can poll them.
//	Rejected requests get a Retry-After header and a span carrying the
//	trace ID that is echoed in the response.
func WarmupGuardMiddleware(w *Warmup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if w.IsComplete() {
			c.Next()
			return
		}
		_, span := otel.Tracer("kino.server").Start(c.Request.Context(), "warmup_guard.reject",
			oteltrace.WithAttributes(
				attribute.String("path", c.Request.URL.Path),
				attribute.String("method", c.Request.Method),
				attribute.Int("http.status_code", http.StatusServiceUnavailable),
			),
		)
		defer span.End()

		traceID := ""
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		slog.Warn("Request rejected: warmup in progress",
			slog.String("path", c.Request.URL.Path),
			slog.String("method", c.Request.Method),
			slog.String("trace_id", traceID))
		span.SetStatus(codes.Error, "service unavailable during warmup")

		c.Header("Retry-After", "30")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":    "Warmup in progress",
			"code":     "SERVICE_WARMING_UP",
			"message":  "Kino is still loading its catalog and models. Please retry in 30 seconds.",
			"trace_id": traceID,
		})
		c.Abort()
	}
}
