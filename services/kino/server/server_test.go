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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/AleutianAI/kino/services/kino/catalog"
	"github.com/AleutianAI/kino/services/kino/conversation"
	"github.com/AleutianAI/kino/services/kino/interactions"
	"github.com/AleutianAI/kino/services/kino/pipeline"
	"github.com/AleutianAI/kino/services/kino/recommend"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeTurns struct{}

func (fakeTurns) result(sess *conversation.Session, text string) pipeline.TurnResult {
	title := "Avatar"
	sess.RecordExchange(text, "ok: "+text, title)
	return pipeline.TurnResult{
		SessionID: sess.ID(),
		Utterance: text,
		Reply:     "ok: " + text,
		AudioURL:  "/static/fala_test.mp3",
		Shape:     "confident",
		Debug: pipeline.DebugInfo{
			Intent:         agent.IntentMovie,
			CandidateCount: 3,
			SelectedTitle:  &title,
			Score:          1010,
		},
	}
}

func (f fakeTurns) HandleText(ctx context.Context, sess *conversation.Session, utterance string) (pipeline.TurnResult, error) {
	if strings.TrimSpace(utterance) == "" {
		return pipeline.TurnResult{}, agent.ErrEmptyTranscript
	}
	return f.result(sess, utterance), nil
}

func (f fakeTurns) HandleAudio(ctx context.Context, sess *conversation.Session, audio []byte, out pipeline.Emitter) error {
	if err := out.State(ctx, pipeline.EmitThinking); err != nil {
		return err
	}
	text := string(audio)
	if strings.TrimSpace(text) == "" {
		return out.State(ctx, pipeline.EmitIdle)
	}
	if err := out.Transcript(ctx, text); err != nil {
		return err
	}
	return out.Reply(ctx, f.result(sess, text))
}

func (f fakeTurns) HandleUtterance(ctx context.Context, sess *conversation.Session, utterance string, out pipeline.Emitter) error {
	if err := out.State(ctx, pipeline.EmitThinking); err != nil {
		return err
	}
	return out.Reply(ctx, f.result(sess, utterance))
}

// gatedTurns holds every typed turn until release is closed.
type gatedTurns struct {
	fakeTurns
	started chan struct{}
	release chan struct{}
}

func (g gatedTurns) HandleUtterance(ctx context.Context, sess *conversation.Session, utterance string, out pipeline.Emitter) error {
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.fakeTurns.HandleUtterance(ctx, sess, utterance, out)
}

type fakeLister struct {
	items []interactions.Interaction
	limit int
}

func (f *fakeLister) Recent(ctx context.Context, limit int) ([]interactions.Interaction, error) {
	f.limit = limit
	return f.items, nil
}

// =============================================================================
// Helpers
// =============================================================================

func testCatalog() *catalog.Catalog {
	year := 2009
	return catalog.New("test", []*catalog.Item{
		catalog.NewItem(19995, "Avatar", &year, "Pandora.", []string{"Action", "Science Fiction"}, []string{"alien"}, 150),
		catalog.NewItem(597, "Titanic", nil, "A ship.", []string{"Drama", "Romance"}, []string{"love"}, 100),
	})
}

func setupRouter(t *testing.T, mutate func(*Options)) (*gin.Engine, *Handlers, *conversation.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sessions := conversation.NewRegistry()
	opts := Options{
		Turns:    fakeTurns{},
		Sessions: sessions,
		Catalog:  catalog.NewHolder(testCatalog()),
		Scorer:   recommend.NewScorer(nil),
	}
	if mutate != nil {
		mutate(&opts)
	}
	h, err := NewHandlers(opts)
	require.NoError(t, err)

	router := gin.New()
	RegisterRoutes(router.Group("/v1"), h)
	RegisterWebSocket(router, h)
	return router, h, sessions
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// REST
// =============================================================================

func TestHandleHealth(t *testing.T) {
	router, _, _ := setupRouter(t, nil)
	w := doJSON(t, router, http.MethodGet, "/v1/kino/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestWarmupGuard(t *testing.T) {
	warmup := NewWarmup()
	router, _, _ := setupRouter(t, func(o *Options) { o.Warmup = warmup })

	w := doJSON(t, router, http.MethodPost, "/v1/kino/turn", TurnRequest{Texto: "oi"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "SERVICE_WARMING_UP")

	w = doJSON(t, router, http.MethodGet, "/v1/kino/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = doJSON(t, router, http.MethodGet, "/v1/kino/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	warmup.MarkComplete()
	w = doJSON(t, router, http.MethodPost, "/v1/kino/turn", TurnRequest{Texto: "oi"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/kino/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ready ReadyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ready))
	assert.True(t, ready.Ready)
	assert.Equal(t, 2, ready.CatalogItems)
}

func TestHandleTurn_KeepsSession(t *testing.T) {
	router, _, sessions := setupRouter(t, nil)

	w := doJSON(t, router, http.MethodPost, "/v1/kino/turn", TurnRequest{Texto: "quero ação"})
	require.Equal(t, http.StatusOK, w.Code)
	var first pipeline.TurnResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.NotEmpty(t, first.SessionID)
	assert.Equal(t, "ok: quero ação", first.Reply)

	w = doJSON(t, router, http.MethodPost, "/v1/kino/turn", TurnRequest{SessionID: first.SessionID, Texto: "outro"})
	require.Equal(t, http.StatusOK, w.Code)

	sess, ok := sessions.Get(first.SessionID)
	require.True(t, ok)
	assert.Equal(t, 6, sess.Len())

	w = doJSON(t, router, http.MethodGet, "/v1/kino/sessions/"+first.SessionID+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist SessionHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.Len(t, hist.Turns, 6)
	assert.Equal(t, "Avatar", hist.Session.LastRecommendedTitle)

	w = doJSON(t, router, http.MethodGet, "/v1/kino/sessions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), first.SessionID)
}

func TestHandleTurn_BadRequests(t *testing.T) {
	router, _, _ := setupRouter(t, nil)

	w := doJSON(t, router, http.MethodPost, "/v1/kino/turn", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/kino/turn", TurnRequest{Texto: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "EMPTY_UTTERANCE")
}

func TestHandleSessionHistory_NotFound(t *testing.T) {
	router, _, _ := setupRouter(t, nil)
	w := doJSON(t, router, http.MethodGet, "/v1/kino/sessions/6f1c2a4e-8d3b-4a57-9c1e-2b7f0d9e5a31/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/kino/sessions/missing/history", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_SESSION_ID")
}

func TestHandleTurn_InvalidSessionID(t *testing.T) {
	router, _, _ := setupRouter(t, nil)
	w := doJSON(t, router, http.MethodPost, "/v1/kino/turn", TurnRequest{SessionID: "../../etc", Texto: "oi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_SESSION_ID")
}

func TestHandleTurn_UnknownSession(t *testing.T) {
	router, _, sessions := setupRouter(t, nil)
	w := doJSON(t, router, http.MethodPost, "/v1/kino/turn",
		TurnRequest{SessionID: "6f1c2a4e-8d3b-4a57-9c1e-2b7f0d9e5a31", Texto: "oi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "SESSION_NOT_FOUND")
	assert.Equal(t, 0, sessions.Len(), "unknown ids must not create sessions")
}

func TestHandleTurn_BusySession(t *testing.T) {
	router, _, sessions := setupRouter(t, nil)
	w := doJSON(t, router, http.MethodPost, "/v1/kino/turn", TurnRequest{Texto: "oi"})
	require.Equal(t, http.StatusOK, w.Code)
	var first pipeline.TurnResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	sess, ok := sessions.Get(first.SessionID)
	require.True(t, ok)
	require.True(t, sess.TryAcquire())

	w = doJSON(t, router, http.MethodPost, "/v1/kino/turn", TurnRequest{SessionID: first.SessionID, Texto: "de novo"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "SESSION_BUSY")
	assert.Equal(t, 3, sess.Len(), "the rejected turn must not touch history")

	sess.Release()
	w = doJSON(t, router, http.MethodPost, "/v1/kino/turn", TurnRequest{SessionID: first.SessionID, Texto: "de novo"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleTurn_RefusesChannelSession(t *testing.T) {
	router, h, _ := setupRouter(t, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWS(t, server.URL)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.opts.Channels.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	var channelSess *conversation.Session
	h.opts.Channels.Range(func(s *conversation.Session) bool {
		channelSess = s
		return false
	})
	require.NotNil(t, channelSess)

	w := doJSON(t, router, http.MethodGet, "/v1/kino/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), channelSess.ID())

	w = doJSON(t, router, http.MethodGet, "/v1/kino/sessions/"+channelSess.ID()+"/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/kino/turn",
		TurnRequest{SessionID: channelSess.ID(), Texto: "injected by another client"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, channelSess.Len(), "channel history must stay untouched")

	require.NoError(t, conn.WriteJSON(ClientMessage{Texto: "oi"}))
	assert.Equal(t, "thinking", readFrame(t, conn).Valor)
	assert.Equal(t, "ok: oi", readFrame(t, conn).Texto)
	assert.Equal(t, agent.UserTurn("oi"), channelSess.Snapshot()[0])
}

func TestHandleRecommend(t *testing.T) {
	router, _, _ := setupRouter(t, nil)

	w := doJSON(t, router, http.MethodPost, "/v1/kino/recommend", RecommendRequest{PalavrasChave: []string{"love"}})
	require.Equal(t, http.StatusOK, w.Code)
	var resp RecommendResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Candidates, 2)
	assert.Equal(t, "Titanic", resp.Candidates[0].Title)
	assert.Equal(t, "confident", resp.Shape)

	w = doJSON(t, router, http.MethodPost, "/v1/kino/recommend", RecommendRequest{Genero: "faroeste"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "fallback", resp.Shape)
	assert.Equal(t, "Avatar", resp.Candidates[0].Title)

	bad := 1700
	w = doJSON(t, router, http.MethodPost, "/v1/kino/recommend", RecommendRequest{AnoMinimo: &bad})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_FILTER")
}

func TestHandleCatalogStats(t *testing.T) {
	router, _, _ := setupRouter(t, nil)
	w := doJSON(t, router, http.MethodGet, "/v1/kino/catalog/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats catalog.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Items)
}

func TestHandleInteractions(t *testing.T) {
	router, _, _ := setupRouter(t, nil)
	w := doJSON(t, router, http.MethodGet, "/v1/kino/interactions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	lister := &fakeLister{items: []interactions.Interaction{{ID: "a", Utterance: "oi"}}}
	router, _, _ = setupRouter(t, func(o *Options) { o.Interactions = lister })

	w = doJSON(t, router, http.MethodGet, "/v1/kino/interactions?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, lister.limit)
	assert.Contains(t, w.Body.String(), "\"count\":1")

	w = doJSON(t, router, http.MethodGet, "/v1/kino/interactions?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNewHandlers_Validation(t *testing.T) {
	_, err := NewHandlers(Options{})
	require.Error(t, err)

	shared := conversation.NewRegistry()
	_, err = NewHandlers(Options{
		Turns:    fakeTurns{},
		Sessions: shared,
		Channels: shared,
		Catalog:  catalog.NewHolder(testCatalog()),
		Scorer:   recommend.NewScorer(nil),
	})
	require.Error(t, err)
}

// =============================================================================
// WebSocket
// =============================================================================

func dialWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_AudioTurn(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	router, h, sessions := setupRouter(t, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWS(t, server.URL)
	require.NoError(t, conn.WriteJSON(ClientMessage{AudioData: base64.StdEncoding.EncodeToString([]byte("quero ação"))}))

	msg := readFrame(t, conn)
	assert.Equal(t, TipoEstado, msg.Tipo)
	assert.Equal(t, "thinking", msg.Valor)

	msg = readFrame(t, conn)
	assert.Equal(t, TipoTranscricao, msg.Tipo)
	assert.Equal(t, "quero ação", msg.Texto)

	msg = readFrame(t, conn)
	assert.Equal(t, TipoResposta, msg.Tipo)
	assert.Equal(t, "ok: quero ação", msg.Texto)
	assert.Equal(t, "/static/fala_test.mp3", msg.AudioURL)
	assert.Equal(t, EstadoSpeaking, msg.Estado)
	require.NotNil(t, msg.Debug)
	assert.Equal(t, agent.IntentMovie, msg.Debug.Intent)
	require.NotNil(t, msg.Debug.SelectedTitle)
	assert.Equal(t, "Avatar", *msg.Debug.SelectedTitle)

	assert.Equal(t, 1, h.opts.Channels.Len())
	assert.Equal(t, 0, sessions.Len(), "channel sessions stay out of the REST registry")
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	require.Eventually(t, func() bool { return h.opts.Channels.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocket_TextAndInvalidFrames(t *testing.T) {
	router, _, _ := setupRouter(t, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWS(t, server.URL)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ClientMessage{AudioData: "%%% not base64"}))
	msg := readFrame(t, conn)
	assert.Equal(t, StateMessage{Tipo: TipoEstado, Valor: "idle"}, StateMessage{Tipo: msg.Tipo, Valor: msg.Valor})

	require.NoError(t, conn.WriteJSON(ClientMessage{}))
	msg = readFrame(t, conn)
	assert.Equal(t, "idle", msg.Valor)

	require.NoError(t, conn.WriteJSON(ClientMessage{Texto: "oi"}))
	assert.Equal(t, "thinking", readFrame(t, conn).Valor)
	reply := readFrame(t, conn)
	assert.Equal(t, TipoResposta, reply.Tipo)
	assert.Equal(t, "ok: oi", reply.Texto)
}

func TestWebSocket_MalformedFramesKeepChannelOpen(t *testing.T) {
	router, _, _ := setupRouter(t, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWS(t, server.URL)
	defer conn.Close()

	bad := []string{
		"this is not json",
		`{"audio_data": 123}`,
		`{"texto": ["a", "b"]}`,
		`{"texto": "oi"`,
	}
	for _, frame := range bad {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		msg := readFrame(t, conn)
		assert.Equal(t, TipoEstado, msg.Tipo, frame)
		assert.Equal(t, "idle", msg.Valor, frame)

		require.NoError(t, conn.WriteJSON(ClientMessage{Texto: "oi"}))
		assert.Equal(t, "thinking", readFrame(t, conn).Valor, frame)
		reply := readFrame(t, conn)
		assert.Equal(t, TipoResposta, reply.Tipo, frame)
		assert.Equal(t, "ok: oi", reply.Texto, frame)
	}
}

func TestWebSocket_OverflowFrameAnsweredWithIdle(t *testing.T) {
	gate := gatedTurns{started: make(chan struct{}, 1), release: make(chan struct{})}
	router, _, _ := setupRouter(t, func(o *Options) { o.Turns = gate })
	server := httptest.NewServer(router)
	defer server.Close()
	defer close(gate.release)

	conn := dialWS(t, server.URL)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ClientMessage{Texto: "primeiro"}))
	select {
	case <-gate.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first turn never started")
	}

	// The running turn holds the loop, so these fill the inbox.
	for i := 0; i < inboxSize; i++ {
		require.NoError(t, conn.WriteJSON(ClientMessage{Texto: "na fila"}))
	}
	require.NoError(t, conn.WriteJSON(ClientMessage{Texto: "descartado"}))

	msg := readFrame(t, conn)
	assert.Equal(t, TipoEstado, msg.Tipo)
	assert.Equal(t, "idle", msg.Valor)
}

func TestWebSocket_RejectsDisallowedOrigin(t *testing.T) {
	router, _, _ := setupRouter(t, func(o *Options) { o.AllowedOrigins = []string{"http://kino.local"} })
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()
}
