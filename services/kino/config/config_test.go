// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Defaults
// =============================================================================

func TestDefaults(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "/static", cfg.Server.StaticURL)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Server.SessionIdleTTL)
	assert.Equal(t, "llama3:8b", cfg.LLM.Roles.Main.Model)
	assert.Equal(t, 3, cfg.LLM.Extractor.MaxAttempts)
	assert.Equal(t, 3*time.Minute, cfg.Pipeline.TurnTimeout)
	assert.Equal(t, "pt-BR-YaraNeural", cfg.Speech.TTS.Voice)
	assert.InDelta(t, 1.1, cfg.Speech.TTS.Speed, 1e-9)
	assert.Equal(t, "pt", cfg.Speech.Whisper.Language)
	assert.Equal(t, "none", cfg.Telemetry.Exporter)
	require.NoError(t, cfg.Validate())
}

func TestDefaults_ReturnsCopy(t *testing.T) {
	a, err := Defaults()
	require.NoError(t, err)
	a.Server.Port = 1
	a.Server.AllowedOrigins[0] = "http://mutated"

	b, err := Defaults()
	require.NoError(t, err)
	assert.Equal(t, 8000, b.Server.Port)
	assert.Equal(t, "*", b.Server.AllowedOrigins[0])
}

// =============================================================================
// Load
// =============================================================================

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kino.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_OverrideMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9100
llm:
  roles:
    filter:
      provider: anthropic
      model: claude-3-5-haiku-latest
  extractor:
    max_attempts: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "anthropic", cfg.LLM.Roles.Filter.Provider)
	assert.Equal(t, 5, cfg.LLM.Extractor.MaxAttempts)
	// Untouched keys keep their defaults.
	assert.Equal(t, "ollama", cfg.LLM.Roles.Main.Provider)
	assert.Equal(t, 30*time.Second, cfg.LLM.Extractor.AttemptTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KINO_PORT", "9200")
	t.Setenv("KINO_CATALOG_PATH", "gs://bucket/movies.csv")
	t.Setenv("KINO_SPEECH_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "gs://bucket/movies.csv", cfg.Catalog.Path)
	assert.False(t, cfg.Speech.Enabled)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("KINO_PORT", "oito mil")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KINO_PORT")
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [port"))
		require.Error(t, err)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server:\n  port: 70000\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := Load(writeConfig(t, "llm:\n  roles:\n    main:\n      provider: mistral\n"))
		require.Error(t, err)
	})

	t.Run("unknown exporter", func(t *testing.T) {
		_, err := Load(writeConfig(t, "telemetry:\n  exporter: zipkin\n"))
		require.Error(t, err)
	})

	t.Run("influx without bucket", func(t *testing.T) {
		_, err := Load(writeConfig(t, "interactions:\n  influx:\n    enabled: true\n    bucket: \"\"\n"))
		require.Error(t, err)
	})
}

func TestResolvePath(t *testing.T) {
	t.Setenv("KINO_CONFIG", "/etc/kino/kino.yaml")
	assert.Equal(t, "flag.yaml", ResolvePath("flag.yaml"))
	assert.Equal(t, "/etc/kino/kino.yaml", ResolvePath(""))
}

// =============================================================================
// Provider conversion
// =============================================================================

func TestRoleBase(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)
	cfg.LLM.Roles.Intent = RoleSettings{Provider: "openai", Model: "gpt-4o-mini"}

	base := cfg.LLM.RoleBase()
	assert.Equal(t, "ollama", base.Main.Provider)
	assert.Equal(t, "24h", base.Main.KeepAlive)
	assert.Equal(t, "openai", base.Intent.Provider)
	assert.Equal(t, "gpt-4o-mini", base.Intent.Model)
}

func TestGuardConfig(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)

	g := cfg.LLM.GuardConfig("filter")
	assert.Equal(t, "filter", g.Name)
	assert.EqualValues(t, 1, g.MaxConcurrent)
	assert.EqualValues(t, 5, g.BreakerFailures)
	assert.Equal(t, 30*time.Second, g.BreakerOpenTimeout)
}
