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

const (
	anthropicAPIVersion = "2023-06-01"
	defaultBaseURL      = "https://api.anthropic.com/v1/messages"

	// anthropicDefaultMaxTokens is required by the API; replies are short.
	anthropicDefaultMaxTokens = 1024
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      []systemBlock      `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type systemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicClient implements LLMClient for the Anthropic Messages API.
//
// Kino uses it when a role sets KINO_<ROLE>_PROVIDER=anthropic. The API
// takes no system turns inside the conversation, so the persona and every
// recommendation note end up in the top-level system block; the classifier
// and extractor depend on their prompt wording for the label and JSON shape.
//
// Thread Safety: AnthropicClient is safe for concurrent use.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewAnthropicClientWithConfig creates an AnthropicClient with explicit configuration.
//
// Inputs:
//   - apiKey: The Anthropic API key.
//   - model: The model name. Empty defaults to "claude-3-5-haiku-latest".
//   - baseURL: Messages endpoint. Empty selects the public API.
//
// Outputs:
//   - *AnthropicClient: The configured client.
func NewAnthropicClientWithConfig(apiKey, model, baseURL string) *AnthropicClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = "claude-3-5-haiku-latest"
		slog.Info("Anthropic model not set, defaulting to", "model", model)
	}
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// Chat implements LLMClient.
//
// Description:
//
//	All system messages are joined into a single top-level system block.
//	Any role other than "assistant" is sent as "user". JSON format is not
//	supported natively; callers rely on prompt instructions instead.
func (a *AnthropicClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	model := a.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	systemPrompt, rest := splitSystem(messages)

	apiMessages := make([]anthropicMessage, 0, len(rest))
	for _, msg := range rest {
		role := datatypes.RoleUser
		if strings.EqualFold(msg.Role, datatypes.RoleAssistant) {
			role = datatypes.RoleAssistant
		}
		apiMessages = append(apiMessages, anthropicMessage{Role: role, Content: msg.Content})
	}

	reqPayload := anthropicRequest{
		Model:       model,
		Messages:    apiMessages,
		MaxTokens:   anthropicDefaultMaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
	}
	if systemPrompt != "" {
		reqPayload.System = []systemBlock{{Type: "text", Text: systemPrompt}}
	}
	if len(params.Stop) > 0 {
		reqPayload.StopSeqs = params.Stop
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("anthropic: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("anthropic: creating HTTP request: %w", err)
	}

	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return "", fmt.Errorf("anthropic: reading response body (status %d): %w", resp.StatusCode, readErr)
	}

	slog.Debug("Anthropic response received",
		slog.Int("status", resp.StatusCode),
		slog.Int("body_length", len(bodyBytes)),
		slog.String("model", model),
	)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic: API returned status %d: %s", resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("anthropic: parsing response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic: received no text content")
	}

	return sb.String(), nil
}
