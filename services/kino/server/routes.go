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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all Kino REST routes with the router.
//
// Description:
//
//	Registers the /v1/kino/* endpoints on the given group (typically /v1).
//	Turn endpoints sit behind WarmupGuardMiddleware; health, readiness and
//	debug endpoints are always reachable.
//
// Endpoints:
//
//	GET  /v1/kino/health - Health check
//	GET  /v1/kino/ready - Readiness check
//	POST /v1/kino/turn - Run a text turn
//	POST /v1/kino/recommend - Score the catalog against an explicit filter
//	GET  /v1/kino/catalog/stats - Catalog summary
//	GET  /v1/kino/sessions - Sessions opened by POST /turn
//	GET  /v1/kino/sessions/:id/history - History of one of those sessions
//	GET  /v1/kino/interactions - Recent recorded turns
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	kino := rg.Group("/kino")
	{
		kino.GET("/health", h.HandleHealth)
		kino.GET("/ready", h.HandleReady)

		guarded := kino.Group("", WarmupGuardMiddleware(h.opts.Warmup))
		guarded.POST("/turn", h.HandleTurn)

		kino.POST("/recommend", h.HandleRecommend)
		kino.GET("/catalog/stats", h.HandleCatalogStats)

		kino.GET("/sessions", h.HandleListSessions)
		kino.GET("/sessions/:id/history", h.HandleSessionHistory)
		kino.GET("/interactions", h.HandleInteractions)
	}
}

// RegisterWebSocket registers GET /ws, the conversation channel.
func RegisterWebSocket(r gin.IRouter, h *Handlers) {
	r.GET("/ws", WarmupGuardMiddleware(h.opts.Warmup), h.HandleWebSocket)
}
