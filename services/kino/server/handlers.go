// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes Kino over HTTP: the websocket conversation channel
// and a small REST surface for health, text turns and debugging.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/AleutianAI/kino/services/kino/compose"
	"github.com/AleutianAI/kino/services/kino/conversation"
	"github.com/AleutianAI/kino/services/kino/interactions"
	"github.com/AleutianAI/kino/services/kino/pipeline"
	"github.com/AleutianAI/kino/services/kino/recommend"
	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TurnHandler runs turns. Implemented by pipeline.Orchestrator.
type TurnHandler interface {
	HandleText(ctx context.Context, sess *conversation.Session, utterance string) (pipeline.TurnResult, error)
	HandleAudio(ctx context.Context, sess *conversation.Session, audio []byte, out pipeline.Emitter) error
	HandleUtterance(ctx context.Context, sess *conversation.Session, utterance string, out pipeline.Emitter) error
}

// InteractionLister lists recorded turns. Implemented by
// interactions.BadgerStore.
type InteractionLister interface {
	Recent(ctx context.Context, limit int) ([]interactions.Interaction, error)
}

// Options configures Handlers. Interactions is optional.
//
// Sessions holds sessions opened by POST /v1/kino/turn. Channels holds the
// sessions of live websocket channels and defaults to a fresh registry; it
// is never reachable through the REST endpoints, so one client cannot read
// or write another client's conversation.
type Options struct {
	Turns          TurnHandler
	Sessions       *conversation.Registry
	Channels       *conversation.Registry
	Catalog        pipeline.CatalogSource
	Scorer         *recommend.Scorer
	Interactions   InteractionLister
	Warmup         *Warmup
	AllowedOrigins []string
	MaxMessageSize int64
	Version        string
}

// Handlers serves the Kino HTTP API.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	opts      Options
	upgrader  websocket.Upgrader
	startedAt time.Time
}

// NewHandlers validates opts and builds the handlers.
func NewHandlers(opts Options) (*Handlers, error) {
	switch {
	case opts.Turns == nil:
		return nil, fmt.Errorf("turn handler must not be nil")
	case opts.Sessions == nil:
		return nil, fmt.Errorf("session registry must not be nil")
	case opts.Catalog == nil:
		return nil, fmt.Errorf("catalog source must not be nil")
	case opts.Scorer == nil:
		return nil, fmt.Errorf("scorer must not be nil")
	}
	if opts.Channels == nil {
		opts.Channels = conversation.NewRegistry()
	}
	if opts.Channels == opts.Sessions {
		return nil, fmt.Errorf("channel and REST sessions must use separate registries")
	}
	if opts.Warmup == nil {
		opts.Warmup = NewWarmup()
		opts.Warmup.MarkComplete()
	}
	h := &Handlers{opts: opts, startedAt: time.Now()}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h, nil
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Header("X-Request-ID", id)
	return id
}

// checkOrigin accepts non-browser clients (no Origin) and configured origins.
func (h *Handlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("Websocket connection rejected: origin not allowed", slog.String("origin", origin))
	return false
}

// HandleWebSocket handles GET /ws.
//
// Description:
//
//	Upgrades the connection, opens a session keyed by a fresh channel ID
//	and serves turns until the client leaves. The session is discarded on
//	disconnect.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sess := h.opts.Channels.Open()
	wsConnections.Inc()
	slog.Info("Client connected", slog.String("session_id", sess.ID()))
	defer func() {
		h.opts.Channels.Close(sess.ID())
		wsConnections.Dec()
		slog.Info("Client disconnected", slog.String("session_id", sess.ID()))
	}()

	newChannel(conn, sess, h.opts.Turns, h.opts.MaxMessageSize).run(c.Request.Context())
}

// HealthResponse is returned by HandleHealth.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
	Channels int    `json:"channels"`
}

// HandleHealth handles GET /v1/kino/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "healthy",
		Version:  h.opts.Version,
		Uptime:   time.Since(h.startedAt).Round(time.Second).String(),
		Sessions: h.opts.Sessions.Len(),
		Channels: h.opts.Channels.Len(),
	})
}

// ReadyResponse is returned by HandleReady.
type ReadyResponse struct {
	Ready        bool `json:"ready"`
	WarmupDone   bool `json:"warmup_done"`
	CatalogItems int  `json:"catalog_items"`
}

// HandleReady handles GET /v1/kino/ready.
//
// Returns 503 until warmup completes. An empty catalog is reported but
// does not make the service unready; movie turns then answer not-found.
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{
		WarmupDone:   h.opts.Warmup.IsComplete(),
		CatalogItems: h.opts.Catalog.Catalog().Len(),
	}
	resp.Ready = resp.WarmupDone
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// TurnRequest is the body of POST /v1/kino/turn.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Texto     string `json:"texto" binding:"required"`
}

// HandleTurn handles POST /v1/kino/turn.
//
// Description:
//
//	Runs a text turn without speech. An empty session_id opens a new
//	session whose ID is returned; passing it back keeps history. Only IDs
//	issued by this endpoint are accepted: unknown or evicted IDs, and the
//	IDs of websocket channels, get 404. A session already running a turn
//	gets 409.
func (h *Handlers) HandleTurn(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleTurn")

	var req TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	var sess *conversation.Session
	switch {
	case req.SessionID == "":
		sess = h.opts.Sessions.Open()
	case !strfmt.IsUUID(req.SessionID):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "session_id must be a UUID", Code: "INVALID_SESSION_ID"})
		return
	default:
		var ok bool
		if sess, ok = h.opts.Sessions.Get(req.SessionID); !ok {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found", Code: "SESSION_NOT_FOUND"})
			return
		}
	}

	if !sess.TryAcquire() {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "session is already running a turn", Code: "SESSION_BUSY"})
		return
	}
	defer sess.Release()

	result, err := h.opts.Turns.HandleText(c.Request.Context(), sess, req.Texto)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrEmptyTranscript):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "texto must not be blank", Code: "EMPTY_UTTERANCE"})
		case errors.Is(err, context.Canceled):
			logger.Debug("Client went away during turn")
		default:
			logger.Error("Turn failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "turn failed", Code: "TURN_FAILED"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// RecommendRequest is the body of POST /v1/kino/recommend. Field names
// follow the extractor's record.
type RecommendRequest struct {
	Genero        string   `json:"genero"`
	PalavrasChave []string `json:"palavras_chave"`
	AnoMinimo     *int     `json:"ano_minimo"`
	AnoMaximo     *int     `json:"ano_maximo"`
}

// CandidateResponse is one scored item.
type CandidateResponse struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Year       *int     `json:"year,omitempty"`
	Genres     []string `json:"genres"`
	Popularity float64  `json:"popularity"`
	Score      float64  `json:"score"`
}

// RecommendResponse is returned by HandleRecommend.
type RecommendResponse struct {
	Filter     agent.QueryFilter   `json:"filter"`
	Candidates []CandidateResponse `json:"candidates"`
	Shape      string              `json:"shape"`
}

// HandleRecommend handles POST /v1/kino/recommend.
//
// Scores the catalog against an explicit filter without any reasoning
// call. Useful for tuning the alias table and weights.
func (h *Handlers) HandleRecommend(c *gin.Context) {
	var req RecommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}
	filter := agent.NewQueryFilter(req.Genero, req.PalavrasChave, req.AnoMinimo, req.AnoMaximo)
	if err := filter.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_FILTER"})
		return
	}

	cands := h.opts.Scorer.Score(h.opts.Catalog.Catalog(), filter)
	resp := RecommendResponse{Filter: filter, Candidates: make([]CandidateResponse, 0, len(cands))}
	for _, sc := range cands {
		resp.Candidates = append(resp.Candidates, CandidateResponse{
			ID:         sc.Item.ID,
			Title:      sc.Item.Title,
			Year:       sc.Item.ReleaseYear,
			Genres:     sc.Item.Genres,
			Popularity: sc.Item.Popularity,
			Score:      sc.Score,
		})
	}
	var bestPtr *recommend.ScoredCandidate
	if best, ok := h.opts.Scorer.Best(cands); ok {
		bestPtr = &best
	}
	resp.Shape = string(compose.SelectShape(agent.IntentMovie, bestPtr))
	c.JSON(http.StatusOK, resp)
}

// HandleCatalogStats handles GET /v1/kino/catalog/stats.
func (h *Handlers) HandleCatalogStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.opts.Catalog.Catalog().Stats())
}

// SessionHistoryResponse is returned by HandleSessionHistory.
type SessionHistoryResponse struct {
	Session conversation.Info `json:"session"`
	Turns   []agent.Turn      `json:"turns"`
}

// HandleListSessions handles GET /v1/kino/sessions. Only sessions opened
// over REST are listed.
func (h *Handlers) HandleListSessions(c *gin.Context) {
	infos := make([]conversation.Info, 0, h.opts.Sessions.Len())
	h.opts.Sessions.Range(func(s *conversation.Session) bool {
		infos = append(infos, s.Info())
		return true
	})
	c.JSON(http.StatusOK, gin.H{"sessions": infos})
}

// HandleSessionHistory handles GET /v1/kino/sessions/:id/history.
func (h *Handlers) HandleSessionHistory(c *gin.Context) {
	id := c.Param("id")
	if !strfmt.IsUUID(id) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "session id must be a UUID", Code: "INVALID_SESSION_ID"})
		return
	}
	sess, ok := h.opts.Sessions.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found", Code: "SESSION_NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, SessionHistoryResponse{Session: sess.Info(), Turns: sess.Snapshot()})
}

// HandleInteractions handles GET /v1/kino/interactions?limit=N.
func (h *Handlers) HandleInteractions(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleInteractions")

	if h.opts.Interactions == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "interaction store disabled", Code: "STORE_DISABLED"})
		return
	}
	limit := interactions.DefaultRecentLimit
	if s := c.Query("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed <= 0 || parsed > 1000 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be between 1 and 1000", Code: "INVALID_PARAMETER"})
			return
		}
		limit = parsed
	}
	list, err := h.opts.Interactions.Recent(c.Request.Context(), limit)
	if err != nil {
		logger.Error("Listing interactions failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "listing interactions failed", Code: "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"interactions": list, "count": len(list)})
}
