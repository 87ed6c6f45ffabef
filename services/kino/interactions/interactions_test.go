// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package interactions

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/AleutianAI/kino/services/kino/agent/providers"
	badgerstore "github.com/AleutianAI/kino/services/kino/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

func openTestDB(t *testing.T) *badgerstore.DB {
	t.Helper()
	db, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func movieInteraction(utterance string, ts time.Time) Interaction {
	genre := "ação"
	return Interaction{
		ID:             "id-" + utterance,
		SessionID:      "s1",
		Timestamp:      ts,
		Utterance:      utterance,
		Intent:         agent.IntentMovie,
		Technical:      TechnicalSummary(agent.IntentMovie, agent.QueryFilter{Genre: &genre}, 1010.5),
		Reply:          "Recomendo Avatar, com Sam Worthington, \"épico\".",
		Shape:          "confident",
		SelectedTitle:  "Avatar",
		Score:          1010.5,
		CandidateCount: 5,
		Duration:       1500 * time.Millisecond,
	}
}

// =============================================================================
// TechnicalSummary
// =============================================================================

func TestTechnicalSummary(t *testing.T) {
	genre := "terror"
	assert.Equal(t, "Chat Casual", TechnicalSummary(agent.IntentChat, agent.QueryFilter{Genre: &genre}, 10))
	assert.Equal(t, `Filtros: {"genre":"terror"} | Score: 1007.25`,
		TechnicalSummary(agent.IntentMovie, agent.QueryFilter{Genre: &genre}, 1007.25))
	assert.Equal(t, "Filtros: {} | Score: 0", TechnicalSummary(agent.IntentMovie, agent.QueryFilter{}, 0))
}

// =============================================================================
// CSVRecorder
// =============================================================================

func TestCSVRecorder_WritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "historico_interacoes.csv")
	rec := NewCSVRecorder(path)
	ctx := context.Background()

	ts := time.Date(2026, 3, 14, 20, 15, 0, 0, time.Local)
	require.NoError(t, rec.Record(ctx, movieInteraction("quero ação", ts)))
	require.NoError(t, rec.Record(ctx, Interaction{Timestamp: ts, Utterance: "oi", Intent: agent.IntentChat, Technical: "Chat Casual", Reply: "Oi!"}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, "2026-03-14 20:15:00", rows[1][0])
	assert.Equal(t, "quero ação", rows[1][1])
	assert.Equal(t, "filme", rows[1][2])
	assert.True(t, strings.HasPrefix(rows[1][3], "Filtros: "))
	assert.Equal(t, "Recomendo Avatar, com Sam Worthington, \"épico\".", rows[1][4])
	assert.Equal(t, []string{"2026-03-14 20:15:00", "oi", "conversa", "Chat Casual", "Oi!"}, rows[2])
}

func TestCSVRecorder_CanceledContext(t *testing.T) {
	rec := NewCSVRecorder(filepath.Join(t.TempDir(), "log.csv"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, rec.Record(ctx, Interaction{}))
	_, err := os.Stat(rec.Path())
	assert.True(t, os.IsNotExist(err))
}

// =============================================================================
// BadgerStore
// =============================================================================

func TestBadgerStore_RecentNewestFirst(t *testing.T) {
	store := NewBadgerStore(openTestDB(t), 0)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, u := range []string{"primeiro", "segundo", "terceiro"} {
		require.NoError(t, store.Record(ctx, movieInteraction(u, base.Add(time.Duration(i)*time.Minute))))
	}

	got, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "terceiro", got[0].Utterance)
	assert.Equal(t, "segundo", got[1].Utterance)
	assert.Equal(t, agent.IntentMovie, got[0].Intent)
	assert.Equal(t, 1500*time.Millisecond, got[0].Duration)

	all, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestBadgerStore_FillsIDAndTimestamp(t *testing.T) {
	store := NewBadgerStore(openTestDB(t), time.Hour)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, Interaction{Utterance: "oi"}))

	got, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBadgerStore_Empty(t *testing.T) {
	got, err := NewBadgerStore(openTestDB(t), 0).Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// InfluxRecorder
// =============================================================================

func TestInfluxRecorder_WritesPoint(t *testing.T) {
	var body, auth, query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		auth = r.Header.Get("Authorization")
		query = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	rec, err := NewInfluxRecorder(InfluxConfig{
		URL:    server.URL,
		Org:    "kino",
		Bucket: "turns",
		Token:  providers.NewSecret("influx-token"),
	})
	require.NoError(t, err)
	defer rec.Close()

	require.NoError(t, rec.Record(context.Background(), movieInteraction("quero ação", time.Unix(1700000000, 0))))
	assert.True(t, strings.HasPrefix(body, "kino_turn,"), body)
	assert.Contains(t, body, "intent=movie")
	assert.Contains(t, body, "shape=confident")
	assert.Contains(t, body, "candidate_count=5i")
	assert.NotContains(t, body, "quero")
	assert.Equal(t, "Token influx-token", auth)
	assert.Contains(t, query, "bucket=turns")
}

func TestNewInfluxRecorder_RequiresTarget(t *testing.T) {
	_, err := NewInfluxRecorder(InfluxConfig{URL: "http://localhost:8086"})
	require.Error(t, err)
}

// =============================================================================
// Multi
// =============================================================================

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(ctx context.Context, in Interaction) error {
	f.calls++
	return errors.New("disk full")
}

type memoryRecorder struct{ got []Interaction }

func (m *memoryRecorder) Record(ctx context.Context, in Interaction) error {
	m.got = append(m.got, in)
	return nil
}

func TestMulti_SwallowsErrors(t *testing.T) {
	bad := &failingRecorder{}
	good := &memoryRecorder{}
	m := NewMulti(Named{Name: "bad", Recorder: bad}, Named{Name: "nil"}, Named{Name: "good", Recorder: good})
	assert.Equal(t, 2, m.Len())

	require.NoError(t, m.Record(context.Background(), Interaction{ID: "x"}))
	assert.Equal(t, 1, bad.calls)
	require.Len(t, good.got, 1)
	assert.Equal(t, "x", good.got[0].ID)
}
