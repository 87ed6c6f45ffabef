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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/kino/services/kino/catalog"
	"github.com/AleutianAI/kino/services/kino/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns defaults pointed at temp directories with speech off
// and a fake Ollama server that accepts warmup requests.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"done": true}`))
	}))
	t.Cleanup(ollama.Close)
	t.Setenv("OLLAMA_BASE_URL", ollama.URL)

	cfg, err := config.Defaults()
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Server.StaticDir = filepath.Join(dir, "static")
	cfg.Catalog.Path = filepath.Join("..", "..", "services", "kino", "catalog", "testdata", "tmdb_sample.csv")
	cfg.Speech.Enabled = false
	cfg.Interactions.CSVPath = filepath.Join(dir, "logs", "historico.csv")
	cfg.Interactions.BadgerPath = filepath.Join(dir, "badger")
	return cfg
}

func get(t *testing.T, a *app, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	a.router.ServeHTTP(w, req)
	return w
}

func TestNewApp_Routes(t *testing.T) {
	a, err := newApp(testConfig(t), false)
	require.NoError(t, err)
	t.Cleanup(a.close)

	assert.Equal(t, http.StatusOK, get(t, a, "/v1/kino/health").Code)
	assert.Equal(t, http.StatusOK, get(t, a, "/metrics").Code)
	assert.Equal(t, http.StatusOK, get(t, a, "/v1/kino/interactions").Code)

	// Before startup finishes the service reports not ready and the
	// websocket endpoint is guarded.
	assert.Equal(t, http.StatusServiceUnavailable, get(t, a, "/v1/kino/ready").Code)
	ws := get(t, a, "/ws")
	assert.Equal(t, http.StatusServiceUnavailable, ws.Code)
	assert.Equal(t, "30", ws.Header().Get("Retry-After"))
}

func TestApp_Startup(t *testing.T) {
	a, err := newApp(testConfig(t), false)
	require.NoError(t, err)
	t.Cleanup(a.close)

	a.startup(context.Background())

	assert.True(t, a.warmup.IsComplete())
	assert.Equal(t, http.StatusOK, get(t, a, "/v1/kino/ready").Code)

	w := get(t, a, "/v1/kino/catalog/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var stats catalog.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Positive(t, stats.Items)
}

func TestApp_StartupMissingCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "absent.csv")

	a, err := newApp(cfg, false)
	require.NoError(t, err)
	t.Cleanup(a.close)

	a.startup(context.Background())

	assert.True(t, a.warmup.IsComplete())
	assert.Equal(t, 0, a.catalog.Catalog().Len())
}

func TestNewApp_BadRole(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv("KINO_MAIN_PROVIDER", "mistral")

	_, err := newApp(cfg, false)
	require.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
}
