// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/AleutianAI/kino/services/kino/agent/providers"
	"github.com/AleutianAI/kino/services/llm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TTSConfig configures a TTSClient.
type TTSConfig struct {
	// BaseURL is the server root, e.g. "http://localhost:5050".
	BaseURL string

	// Model is the speech model. Default: "tts-1"
	Model string

	// Voice is the voice name. Default: "pt-BR-YaraNeural"
	Voice string

	// Speed is the playback rate multiplier. Default: 1.1
	Speed float64

	// Timeout bounds one synthesis. Default: 60s
	Timeout time.Duration

	// APIKey is sent as a bearer token when set.
	APIKey *providers.Secret
}

// TTSClient voices replies through POST /v1/audio/speech and stores the
// resulting MP3 in an AudioStore.
//
// Thread Safety: TTSClient is safe for concurrent use.
type TTSClient struct {
	httpClient *http.Client
	config     TTSConfig
	store      *AudioStore
	logger     *slog.Logger
}

// NewTTSClient creates a TTSClient, applying defaults.
func NewTTSClient(config TTSConfig, store *AudioStore) (*TTSClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("tts: base URL must not be empty")
	}
	if store == nil {
		return nil, fmt.Errorf("tts: audio store must not be nil")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = "tts-1"
	}
	if config.Voice == "" {
		config.Voice = "pt-BR-YaraNeural"
	}
	if config.Speed <= 0 {
		config.Speed = 1.1
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &TTSClient{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		store:      store,
		logger:     slog.Default(),
	}, nil
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format"`
}

// Synthesize implements Synthesizer. It returns the URL path of a new
// fala_<uuid>.mp3 file.
//
// Errors are wrapped in agent.ErrServiceUnavailable.
func (t *TTSClient) Synthesize(ctx context.Context, text string) (url string, err error) {
	ctx, span := tracer.Start(ctx, "TTSClient.Synthesize")
	defer span.End()
	span.SetAttributes(attribute.Int("speech.text_len", len(text)))

	start := time.Now()
	defer func() {
		observe("synthesize", start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "synthesis failed")
		}
	}()

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("tts: text must not be empty")
	}

	payload, err := json.Marshal(speechRequest{
		Model:          t.config.Model,
		Input:          text,
		Voice:          t.config.Voice,
		Speed:          t.config.Speed,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return "", fmt.Errorf("tts: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.BaseURL+"/v1/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("tts: creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := setBearer(req, t.config.APIKey); err != nil {
		return "", err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tts: %w: %w", agent.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("tts: %w: reading response: %w", agent.ErrServiceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tts: %w: API returned status %d: %s",
			agent.ErrServiceUnavailable, resp.StatusCode, llm.SafeLogString(string(audio)))
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("tts: %w: empty audio response", agent.ErrServiceUnavailable)
	}
	speechBytes.WithLabelValues("synthesize").Add(float64(len(audio)))

	name, err := t.store.Save(SpeechPrefix, "mp3", audio)
	if err != nil {
		return "", fmt.Errorf("tts: %w", err)
	}

	t.logger.Debug("Synthesis complete",
		slog.String("file", name),
		slog.Int("audio_bytes", len(audio)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return t.store.URL(name), nil
}
