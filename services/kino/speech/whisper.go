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
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/AleutianAI/kino/services/kino/agent/providers"
	"github.com/AleutianAI/kino/services/llm"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// WhisperConfig configures a WhisperClient.
type WhisperConfig struct {
	// BaseURL is the server root, e.g. "http://localhost:8001".
	BaseURL string

	// Model is the transcription model. Default: "whisper-1"
	Model string

	// Language is the ISO-639-1 hint. Default: "pt"
	Language string

	// Timeout bounds one transcription. Default: 60s
	Timeout time.Duration

	// APIKey is sent as a bearer token when set.
	APIKey *providers.Secret
}

// WhisperClient transcribes audio through POST /v1/audio/transcriptions.
//
// Description:
//
//	The recording is uploaded directly as multipart form data; nothing is
//	written to disk. Whitespace-only transcripts are returned as "".
//
// Thread Safety: WhisperClient is safe for concurrent use.
type WhisperClient struct {
	httpClient *http.Client
	config     WhisperConfig
	logger     *slog.Logger
}

// NewWhisperClient creates a WhisperClient, applying defaults.
func NewWhisperClient(config WhisperConfig) (*WhisperClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("whisper: base URL must not be empty")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = "whisper-1"
	}
	if config.Language == "" {
		config.Language = "pt"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &WhisperClient{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		logger:     slog.Default(),
	}, nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe implements Transcriber.
//
// Errors are wrapped in agent.ErrServiceUnavailable.
func (w *WhisperClient) Transcribe(ctx context.Context, audio []byte) (text string, err error) {
	ctx, span := tracer.Start(ctx, "WhisperClient.Transcribe")
	defer span.End()
	span.SetAttributes(attribute.Int("speech.audio_bytes", len(audio)))

	start := time.Now()
	defer func() {
		observe("transcribe", start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transcription failed")
		}
	}()
	speechBytes.WithLabelValues("transcribe").Add(float64(len(audio)))

	if len(audio) == 0 {
		return "", nil
	}

	body, contentType, err := w.multipartBody(audio)
	if err != nil {
		return "", fmt.Errorf("whisper: building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.BaseURL+"/v1/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("whisper: creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if err := setBearer(req, w.config.APIKey); err != nil {
		return "", err
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: %w: %w", agent.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: %w: reading response: %w", agent.ErrServiceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: %w: API returned status %d: %s",
			agent.ErrServiceUnavailable, resp.StatusCode, llm.SafeLogString(string(raw)))
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("whisper: %w: parsing response JSON: %w", agent.ErrServiceUnavailable, err)
	}

	text = strings.TrimSpace(parsed.Text)
	w.logger.Debug("Transcription complete",
		slog.Int("audio_bytes", len(audio)),
		slog.Int("text_len", len(text)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return text, nil
}

func (w *WhisperClient) multipartBody(audio []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", RecordingPrefix+uuid.NewString()+".webm")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	for k, v := range map[string]string{
		"model":           w.config.Model,
		"language":        w.config.Language,
		"response_format": "json",
	} {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func setBearer(req *http.Request, key *providers.Secret) error {
	if !key.IsSet() {
		return nil
	}
	value, err := key.Reveal()
	if err != nil {
		return fmt.Errorf("opening speech API key: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+value)
	return nil
}
