// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/AleutianAI/kino/services/kino/catalog"
	"github.com/AleutianAI/kino/services/kino/config"
	"github.com/AleutianAI/kino/services/kino/interactions"
	"github.com/AleutianAI/kino/services/kino/pipeline"
	"github.com/AleutianAI/kino/services/kino/recommend"
	"github.com/AleutianAI/kino/services/kino/server"
	badgerstore "github.com/AleutianAI/kino/services/kino/storage/badger"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *catalog.Catalog {
	year := 2009
	return catalog.New("test", []*catalog.Item{
		catalog.NewItem(19995, "Avatar", &year, "Pandora.", []string{"Action", "Science Fiction"}, []string{"alien"}, 150),
		catalog.NewItem(597, "Titanic", nil, "A ship.", []string{"Drama", "Romance"}, []string{"love"}, 100),
	})
}

// =============================================================================
// recommend / catalog
// =============================================================================

func TestRunRecommend(t *testing.T) {
	var buf bytes.Buffer
	f := agent.NewQueryFilter("", []string{"love"}, nil, nil)

	require.NoError(t, runRecommend(&buf, recommend.NewScorer(nil), testCatalog(), f, 5))

	out := buf.String()
	assert.Contains(t, out, "confident")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	var ranked []string
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "1.") || strings.HasPrefix(strings.TrimSpace(l), "2.") {
			ranked = append(ranked, l)
		}
	}
	require.Len(t, ranked, 2)
	assert.Contains(t, ranked[0], "Titanic")
	assert.Contains(t, ranked[0], "ano desconhecido")
	assert.Contains(t, ranked[1], "Avatar")
}

func TestRunRecommend_Fallback(t *testing.T) {
	var buf bytes.Buffer
	f := agent.NewQueryFilter("faroeste", nil, nil, nil)

	require.NoError(t, runRecommend(&buf, recommend.NewScorer(nil), testCatalog(), f, 1))
	assert.Contains(t, buf.String(), "fallback")
	assert.NotContains(t, buf.String(), " 2. ")
}

func TestRecommendCmd_RequiresFilter(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"recommend", "--catalog", "unused.csv"})
	root.SetOut(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--genre")
}

func TestCatalogStatsCmd(t *testing.T) {
	var buf bytes.Buffer
	root := newRootCmd()
	root.SetArgs([]string{"catalog", "stats", "--json", "--catalog",
		filepath.Join("..", "..", "services", "kino", "catalog", "testdata", "tmdb_sample.csv")})
	root.SetOut(&buf)

	require.NoError(t, root.Execute())
	var st catalog.Stats
	require.NoError(t, json.Unmarshal(buf.Bytes(), &st))
	assert.Positive(t, st.Items)
	assert.NotEmpty(t, st.Genres)
}

func TestPrintStats_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStats(&buf, testCatalog().Stats(), 2, false))

	out := buf.String()
	assert.Contains(t, out, "items: 2")
	assert.Contains(t, out, "with year: 1 (2009-2009)")
	assert.Contains(t, out, "genres:")
}

// =============================================================================
// interactions
// =============================================================================

func TestDumpInteractions(t *testing.T) {
	dir := t.TempDir()
	cfg := badgerstore.DefaultConfig()
	cfg.Path = dir
	db, err := badgerstore.OpenDB(cfg)
	require.NoError(t, err)

	store := interactions.NewBadgerStore(db, 0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, interactions.Interaction{
		Timestamp: base, Utterance: "oi", Intent: agent.IntentChat, Reply: "Olá!", Technical: "Chat Casual",
	}))
	require.NoError(t, store.Record(ctx, interactions.Interaction{
		Timestamp: base.Add(time.Minute), Utterance: "um filme de amor", Intent: agent.IntentMovie,
		Reply: "Que tal Titanic?", Shape: "confident", Technical: "Filtros: {} | Score: 62",
	}))
	require.NoError(t, db.Close())

	var buf bytes.Buffer
	require.NoError(t, dumpInteractions(ctx, &buf, dir, 10, false))
	out := buf.String()
	assert.Less(t, strings.Index(out, "um filme de amor"), strings.Index(out, "oi\n"))
	assert.Contains(t, out, "2 turn(s)")

	buf.Reset()
	require.NoError(t, dumpInteractions(ctx, &buf, dir, 1, true))
	var got interactions.Interaction
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "um filme de amor", got.Utterance)
}

func TestDumpInteractions_MissingStore(t *testing.T) {
	var buf bytes.Buffer
	err := dumpInteractions(context.Background(), &buf, filepath.Join(t.TempDir(), "absent"), 10, false)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "does not exist")
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\tc", 10))
	assert.Equal(t, "abcdefg...", oneLine("abcdefghijklmnop", 10))
}

// =============================================================================
// chat
// =============================================================================

// fakeServer answers each client frame with the frames produced by respond.
func fakeServer(t *testing.T, respond func(server.ClientMessage) []any) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg server.ClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			for _, frame := range respond(msg) {
				if err := conn.WriteJSON(frame); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestChatLoop(t *testing.T) {
	title := "Titanic"
	url := fakeServer(t, func(msg server.ClientMessage) []any {
		return []any{
			server.StateMessage{Tipo: server.TipoEstado, Valor: pipeline.EmitThinking},
			server.ReplyMessage{
				Tipo: server.TipoResposta, Texto: "Recebi: " + msg.Texto, Estado: server.EstadoSpeaking,
				AudioURL: "/static/fala_1.mp3",
				Debug:    pipeline.DebugInfo{Intent: agent.IntentMovie, SelectedTitle: &title, Score: 62},
			},
		}
	})
	conn := dial(t, url)

	var out bytes.Buffer
	in := strings.NewReader("um filme de amor\n\nobrigado\n")
	require.NoError(t, chatLoop(context.Background(), conn, in, &out, true))

	s := out.String()
	assert.Contains(t, s, "Recebi: um filme de amor")
	assert.Contains(t, s, "Recebi: obrigado")
	assert.Contains(t, s, "/static/fala_1.mp3")
	assert.Contains(t, s, "selected: Titanic")
	assert.Equal(t, 2, strings.Count(s, "[thinking]"))
}

func TestSendTurn_Idle(t *testing.T) {
	url := fakeServer(t, func(msg server.ClientMessage) []any {
		return []any{
			server.StateMessage{Tipo: server.TipoEstado, Valor: pipeline.EmitThinking},
			server.StateMessage{Tipo: server.TipoEstado, Valor: pipeline.EmitIdle},
		}
	})
	conn := dial(t, url)

	var out bytes.Buffer
	require.NoError(t, sendTurn(conn, server.ClientMessage{AudioData: "AAAA"}, &out, false))
	assert.Contains(t, out.String(), "(sem resposta)")
}

func TestSendTurn_ServerGone(t *testing.T) {
	url := fakeServer(t, func(msg server.ClientMessage) []any { return nil })
	conn := dial(t, url)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	err := sendTurn(conn, server.ClientMessage{Texto: "oi"}, &bytes.Buffer{}, false)
	require.Error(t, err)
}

// =============================================================================
// chat TUI
// =============================================================================

func TestChatModel_TurnCycle(t *testing.T) {
	m := newChatModel(nil, false)
	m.input.SetValue("um filme de amor")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(chatModel)
	assert.NotNil(t, cmd)
	assert.True(t, m.waiting)
	assert.Empty(t, m.input.Value())
	require.Len(t, m.lines, 1)
	assert.Contains(t, m.lines[0], "um filme de amor")

	// Input is ignored while a turn is in flight.
	m.input.SetValue("outro")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(chatModel)
	assert.Len(t, m.lines, 1)

	next, _ = m.Update(frameMsg{Tipo: server.TipoEstado, Valor: pipeline.EmitThinking})
	m = next.(chatModel)
	assert.True(t, m.waiting)

	next, _ = m.Update(frameMsg{Tipo: server.TipoResposta, Texto: "Que tal Titanic?"})
	m = next.(chatModel)
	assert.False(t, m.waiting)
	assert.Contains(t, m.lines[len(m.lines)-1], "Que tal Titanic?")
	assert.Contains(t, m.View(), "Que tal Titanic?")
}

func TestChatModel_Error(t *testing.T) {
	m := newChatModel(nil, false)
	next, cmd := m.Update(errMsg{err: assert.AnError})
	assert.NotNil(t, cmd)
	assert.ErrorIs(t, next.(chatModel).err, assert.AnError)
}

// =============================================================================
// config init
// =============================================================================

func TestWriteOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "kino.yaml")
	answers := setupAnswers{
		Provider:      "anthropic",
		Model:         "claude-3-5-haiku-latest",
		CatalogPath:   "gs://filmes/tmdb.csv",
		SpeechEnabled: true,
		WhisperURL:    "http://whisper:8001",
		TTSURL:        "http://tts:5050",
		BadgerPath:    "/var/lib/kino/interactions",
	}

	var out bytes.Buffer
	require.NoError(t, writeOverride(&out, path, answers))
	assert.Contains(t, out.String(), path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Roles.Filter.Provider)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.LLM.Roles.Intent.Model)
	assert.Equal(t, "gs://filmes/tmdb.csv", cfg.Catalog.Path)
	assert.Equal(t, "http://tts:5050", cfg.Speech.TTS.URL)
	assert.Equal(t, "/var/lib/kino/interactions", cfg.Interactions.BadgerPath)
	// Keys outside the form keep their defaults.
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestWriteOverride_InvalidRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kino.yaml")
	answers := defaultAnswers()
	answers.Provider = "mistral"

	err := writeOverride(&bytes.Buffer{}, path, answers)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestOptionalURL(t *testing.T) {
	assert.NoError(t, optionalURL(""))
	assert.NoError(t, optionalURL("http://localhost:8001"))
	assert.Error(t, optionalURL("localhost"))
}

func TestConfigCheckCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kino.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600))

	var buf bytes.Buffer
	root := newRootCmd()
	root.SetArgs([]string{"config", "check", path})
	root.SetOut(&buf)
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "config OK")
}
