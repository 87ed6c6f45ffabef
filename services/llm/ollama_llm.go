// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

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

	"github.com/AleutianAI/kino/services/kino/datatypes"
)

type ollamaChatRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	Format    string          `json:"format,omitempty"`
	KeepAlive string          `json:"keep_alive,omitempty"`
	Options   *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	NumCtx      *int     `json:"num_ctx,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChatResponse struct {
	Model      string        `json:"model"`
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type ollamaGenerateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	Stream    bool   `json:"stream"`
	KeepAlive string `json:"keep_alive,omitempty"`
}

// OllamaClient talks to a local Ollama server over its REST API.
//
// Description:
//
//	Uses /api/chat with streaming disabled. Format "json" is passed through
//	so the server constrains decoding to valid JSON, which the filter
//	extractor relies on.
//
// Thread Safety: OllamaClient is safe for concurrent use.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewOllamaClient creates an OllamaClient.
//
// Inputs:
//   - baseURL: Server root, e.g. "http://localhost:11434". A trailing slash is trimmed.
//   - model: Default model used when GenerationParams.ModelOverride is empty.
//
// Outputs:
//   - *OllamaClient: The configured client.
func NewOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 180 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
	}
}

// Chat implements LLMClient using POST /api/chat.
func (o *OllamaClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	model := o.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}
	if model == "" {
		return "", fmt.Errorf("ollama: model is not set")
	}

	reqPayload := ollamaChatRequest{
		Model:     model,
		Messages:  make([]ollamaMessage, 0, len(messages)),
		Stream:    false,
		Format:    params.Format,
		KeepAlive: params.KeepAlive,
	}
	for _, msg := range messages {
		reqPayload.Messages = append(reqPayload.Messages, ollamaMessage{Role: msg.Role, Content: msg.Content})
	}

	opts := &ollamaOptions{
		Temperature: params.Temperature,
		TopP:        params.TopP,
		NumPredict:  params.MaxTokens,
		NumCtx:      params.NumCtx,
		Stop:        params.Stop,
	}
	if opts.Temperature != nil || opts.TopP != nil || opts.NumPredict != nil || opts.NumCtx != nil || len(opts.Stop) > 0 {
		reqPayload.Options = opts
	}

	var apiResp ollamaChatResponse
	if err := o.post(ctx, "/api/chat", reqPayload, &apiResp); err != nil {
		return "", err
	}
	if apiResp.Error != "" {
		return "", fmt.Errorf("ollama: API error: %s", apiResp.Error)
	}

	slog.Debug("Received Ollama chat response",
		slog.String("model", model),
		slog.String("done_reason", apiResp.DoneReason),
		slog.Int("response_len", len(apiResp.Message.Content)),
	)

	return apiResp.Message.Content, nil
}

// WarmModel loads a model into memory by sending an empty generate request.
//
// Description:
//
//	Ollama loads the model on the first request and keeps it resident for
//	keepAlive. An empty prompt loads without generating.
func (o *OllamaClient) WarmModel(ctx context.Context, model, keepAlive string) error {
	if model == "" {
		model = o.model
	}
	req := ollamaGenerateRequest{Model: model, Stream: false, KeepAlive: keepAlive}
	var resp map[string]any
	if err := o.post(ctx, "/api/generate", req, &resp); err != nil {
		return fmt.Errorf("ollama: warming %s: %w", model, err)
	}
	return nil
}

// post sends a JSON body and decodes a JSON response.
func (o *OllamaClient) post(ctx context.Context, path string, payload any, out any) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ollama: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("ollama: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ollama: reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: API returned status %d: %s", resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("ollama: parsing response JSON: %w", err)
	}
	return nil
}
