// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routing decides what a Kino turn is about and extracts the search
// criteria for movie turns.
//
// IntentClassifier sorts an utterance into movie or chat with one reasoning
// call. FilterExtractor turns a movie request into an agent.QueryFilter,
// asking the reasoning service to correct itself when its answer is not
// valid JSON.
package routing

import (
	"context"
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

// ClassifierConfig configures the intent classifier.
type ClassifierConfig struct {
	// Model overrides the client's default model. Empty uses the default.
	Model string `json:"model"`

	// Timeout bounds the single classification call.
	// Default: 15s
	Timeout time.Duration `json:"timeout"`

	// Temperature for the call. Default: 0.0
	Temperature float64 `json:"temperature"`

	// MaxTokens limits the answer. A label needs very few. Default: 8
	MaxTokens int `json:"max_tokens"`

	// KeepAlive controls how long Ollama keeps the model loaded. Default: "24h"
	KeepAlive string `json:"keep_alive"`
}

// DefaultClassifierConfig returns sensible defaults.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Timeout:     15 * time.Second,
		Temperature: 0.0,
		MaxTokens:   8,
		KeepAlive:   "24h",
	}
}

// IntentClassifier decides between a movie request and casual chat.
//
// # Description
//
// Sends a fixed instruction plus the utterance and expects the single word
// "filme" or "conversa". Only an exact "filme" (after trimming, lowercasing
// and stripping quotes and punctuation) yields IntentMovie. Every other
// answer, and every service failure, yields IntentChat. There are no retries.
//
// # Thread Safety
//
// IntentClassifier is safe for concurrent use.
type IntentClassifier struct {
	client providers.ChatClient
	config ClassifierConfig
	logger *slog.Logger
}

// NewIntentClassifier creates a classifier.
//
// # Inputs
//
//   - client: Reasoning client for the INTENT role. Must not be nil.
//   - config: Classifier configuration.
//
// # Outputs
//
//   - *IntentClassifier: Configured classifier.
//   - error: Non-nil if client is nil.
func NewIntentClassifier(client providers.ChatClient, config ClassifierConfig) (*IntentClassifier, error) {
	if client == nil {
		return nil, fmt.Errorf("chat client must not be nil")
	}
	return &IntentClassifier{client: client, config: config, logger: slog.Default()}, nil
}

// Classify returns the intent of utterance. It never fails: errors degrade
// to IntentChat.
func (c *IntentClassifier) Classify(ctx context.Context, utterance string) agent.Intent {
	if strings.TrimSpace(utterance) == "" {
		classifierTotal.WithLabelValues("empty").Inc()
		return agent.IntentChat
	}

	ctx, span := tracer.Start(ctx, "IntentClassifier.Classify")
	defer span.End()
	span.SetAttributes(attribute.String("query_preview", truncate(utterance, 80)))

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	messages := []datatypes.Message{
		{Role: datatypes.RoleSystem, Content: intentSystemPrompt},
		{Role: datatypes.RoleUser, Content: utterance},
	}
	opts := providers.ChatOptions{
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
		KeepAlive:   c.config.KeepAlive,
		Model:       c.config.Model,
	}

	start := time.Now()
	answer, err := c.client.Chat(ctx, messages, opts)
	classifierLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		classifierTotal.WithLabelValues("error").Inc()
		c.logger.Warn("Intent classification failed, treating as chat",
			slog.String("error", err.Error()),
			slog.String("kind", string(agent.ClassifyError(err))),
		)
		return agent.IntentChat
	}

	label := normalizeLabel(answer)
	span.SetAttributes(attribute.String("intent.label", label))

	switch label {
	case "filme":
		classifierTotal.WithLabelValues("movie").Inc()
		return agent.IntentMovie
	case "conversa":
		classifierTotal.WithLabelValues("chat").Inc()
	default:
		classifierTotal.WithLabelValues("unrecognized").Inc()
		c.logger.Debug("Unrecognized intent label, treating as chat",
			slog.String("answer", truncate(answer, 80)))
	}
	return agent.IntentChat
}

// normalizeLabel lowercases the answer and strips whitespace, quotes and
// trailing punctuation.
func normalizeLabel(answer string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(answer)), " \t\r\n\"'`.,;:!?*")
}
