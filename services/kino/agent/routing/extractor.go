// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/AleutianAI/kino/services/kino/agent/providers"
	"github.com/AleutianAI/kino/services/kino/datatypes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Attempt result labels.
const (
	attemptSuccess      = "success"
	attemptParseError   = "parse_error"
	attemptServiceError = "service_error"
)

// ExtractorConfig configures the filter extractor.
type ExtractorConfig struct {
	// Model overrides the client's default model. Empty uses the default.
	Model string `json:"model"`

	// MaxAttempts is the total number of calls, including the first.
	// Default: 3
	MaxAttempts int `json:"max_attempts"`

	// AttemptTimeout bounds each call. Default: 30s
	AttemptTimeout time.Duration `json:"attempt_timeout"`

	// Temperature for the call. Default: 0.1
	Temperature float64 `json:"temperature"`

	// MaxTokens limits the response length. Default: 256
	MaxTokens int `json:"max_tokens"`

	// NumCtx is the context window size. Default: 4096
	NumCtx int `json:"num_ctx"`

	// KeepAlive controls how long Ollama keeps the model loaded. Default: "24h"
	KeepAlive string `json:"keep_alive"`
}

// DefaultExtractorConfig returns sensible defaults.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		MaxAttempts:    3,
		AttemptTimeout: 30 * time.Second,
		Temperature:    0.1,
		MaxTokens:      256,
		NumCtx:         4096,
		KeepAlive:      "24h",
	}
}

// AttemptError describes one failed extraction attempt.
type AttemptError struct {
	Attempt int
	// Kind is "parse_error" or "service_error".
	Kind string
	Err  error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("attempt %d %s: %v", e.Attempt, e.Kind, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// FilterExtractor turns a movie request into a QueryFilter.
//
// # Description
//
// The first attempt sends the extraction instruction and the utterance,
// asking for JSON output. When the answer cannot be parsed or validated,
// the next attempt sends a new message list: the previous list, the invalid
// answer as an assistant message, and a corrective user message. A service
// error takes the same retry path, resending the previous list unchanged
// since there is no answer to echo. Earlier lists are never modified.
//
// After MaxAttempts failures Extract returns an empty filter and an error
// matching agent.ErrExtractionFailed.
//
// # Thread Safety
//
// FilterExtractor is safe for concurrent use.
type FilterExtractor struct {
	client providers.ChatClient
	config ExtractorConfig
	logger *slog.Logger
}

// NewFilterExtractor creates an extractor.
//
// # Inputs
//
//   - client: Reasoning client for the FILTER role. Must not be nil.
//   - config: Extractor configuration. MaxAttempts < 1 is treated as 1.
//
// # Outputs
//
//   - *FilterExtractor: Configured extractor.
//   - error: Non-nil if client is nil.
func NewFilterExtractor(client providers.ChatClient, config ExtractorConfig) (*FilterExtractor, error) {
	if client == nil {
		return nil, fmt.Errorf("chat client must not be nil")
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &FilterExtractor{client: client, config: config, logger: slog.Default()}, nil
}

// Extract produces a QueryFilter for utterance.
//
// # Outputs
//
//   - agent.QueryFilter: The validated filter. Empty on failure.
//   - error: Wraps agent.ErrExtractionFailed and the last *AttemptError when
//     all attempts fail. Returns the context error if ctx ends between attempts.
func (e *FilterExtractor) Extract(ctx context.Context, utterance string) (agent.QueryFilter, error) {
	ctx, span := tracer.Start(ctx, "FilterExtractor.Extract")
	defer span.End()
	span.SetAttributes(
		attribute.String("query_preview", truncate(utterance, 80)),
		attribute.Int("extractor.max_attempts", e.config.MaxAttempts),
	)

	start := time.Now()
	defer func() { extractorLatency.Observe(time.Since(start).Seconds()) }()

	messages := []datatypes.Message{
		{Role: datatypes.RoleSystem, Content: filterSystemPrompt},
		{Role: datatypes.RoleUser, Content: utterance},
	}
	opts := providers.ChatOptions{
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
		NumCtx:      e.config.NumCtx,
		KeepAlive:   e.config.KeepAlive,
		Format:      "json",
		Model:       e.config.Model,
	}

	var lastErr *AttemptError
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			extractorTotal.WithLabelValues("canceled").Inc()
			span.SetStatus(codes.Error, "canceled")
			return agent.QueryFilter{}, fmt.Errorf("filter extraction: %w", err)
		}

		raw, err := e.callOnce(ctx, messages, opts)
		if err != nil {
			if ctx.Err() != nil {
				extractorTotal.WithLabelValues("canceled").Inc()
				span.SetStatus(codes.Error, "canceled")
				return agent.QueryFilter{}, fmt.Errorf("filter extraction: %w", ctx.Err())
			}
			lastErr = &AttemptError{Attempt: attempt, Kind: attemptServiceError, Err: err}
			extractorAttemptsTotal.WithLabelValues(attemptServiceError).Inc()
			e.logger.Warn("Filter extraction call failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		filter, perr := ParseFilterResponse(raw)
		if perr == nil {
			extractorAttemptsTotal.WithLabelValues(attemptSuccess).Inc()
			extractorTotal.WithLabelValues("success").Inc()
			extractorAttemptsPerCall.Observe(float64(attempt))
			span.SetAttributes(
				attribute.Int("extractor.attempts", attempt),
				attribute.String("extractor.filter", filter.String()),
			)
			return filter, nil
		}

		lastErr = &AttemptError{Attempt: attempt, Kind: attemptParseError, Err: perr}
		extractorAttemptsTotal.WithLabelValues(attemptParseError).Inc()
		e.logger.Warn("Filter extraction returned invalid JSON",
			slog.Int("attempt", attempt),
			slog.String("error", perr.Error()),
			slog.String("response", truncate(raw, 200)),
		)
		messages = correctionMessages(messages, raw)
	}

	extractorTotal.WithLabelValues("failed").Inc()
	extractorAttemptsPerCall.Observe(float64(e.config.MaxAttempts))
	err := fmt.Errorf("%w after %d attempts: %w", agent.ErrExtractionFailed, e.config.MaxAttempts, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, lastErr.Kind)
	return agent.QueryFilter{}, err
}

func (e *FilterExtractor) callOnce(ctx context.Context, messages []datatypes.Message, opts providers.ChatOptions) (string, error) {
	if e.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.AttemptTimeout)
		defer cancel()
	}
	return e.client.Chat(ctx, messages, opts)
}

// correctionMessages returns a new list: prev, the invalid answer, and the
// corrective instruction. prev is not modified.
func correctionMessages(prev []datatypes.Message, invalid string) []datatypes.Message {
	next := make([]datatypes.Message, len(prev), len(prev)+2)
	copy(next, prev)
	return append(next,
		datatypes.Message{Role: datatypes.RoleAssistant, Content: invalid},
		datatypes.Message{Role: datatypes.RoleUser, Content: correctiveInstruction},
	)
}

// filterRecord is the fixed wire shape of an extractor answer.
type filterRecord struct {
	Genre    *string  `json:"genero"`
	Keywords []string `json:"palavras_chave"`
	YearMin  *int     `json:"ano_minimo"`
	YearMax  *int     `json:"ano_maximo"`
}

// ErrNoJSONObject means the answer contained no {...} span.
var ErrNoJSONObject = errors.New("no JSON object found in response")

// ParseFilterResponse parses and validates an extractor answer.
//
// # Description
//
// Trims the answer, strips markdown code fences, takes the outermost
// {...} span and decodes it into the fixed record. Type mismatches (for
// example a string year) are errors. The normalized filter is validated
// before it is returned.
//
// # Outputs
//
//   - agent.QueryFilter: The normalized filter.
//   - error: Non-nil if the answer is not a valid filter.
func ParseFilterResponse(raw string) (agent.QueryFilter, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if s == "" {
		return agent.QueryFilter{}, fmt.Errorf("empty response from model")
	}

	startIdx := strings.Index(s, "{")
	endIdx := strings.LastIndex(s, "}")
	if startIdx == -1 || endIdx <= startIdx {
		return agent.QueryFilter{}, fmt.Errorf("%w: %s", ErrNoJSONObject, truncate(s, 100))
	}

	var rec filterRecord
	dec := json.NewDecoder(bytes.NewReader([]byte(s[startIdx : endIdx+1])))
	if err := dec.Decode(&rec); err != nil {
		return agent.QueryFilter{}, fmt.Errorf("failed to parse JSON: %w", err)
	}

	var genre string
	if rec.Genre != nil {
		genre = *rec.Genre
	}
	filter := agent.NewQueryFilter(genre, rec.Keywords, rec.YearMin, rec.YearMax)
	if err := filter.Validate(); err != nil {
		return agent.QueryFilter{}, err
	}
	return filter, nil
}
