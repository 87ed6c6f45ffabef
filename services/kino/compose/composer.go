// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compose turns a turn's outcome into Kino's spoken reply.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/AleutianAI/kino/services/kino/agent/providers"
	"github.com/AleutianAI/kino/services/kino/conversation"
	"github.com/AleutianAI/kino/services/kino/datatypes"
	"github.com/AleutianAI/kino/services/kino/recommend"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ConfidenceThreshold is the lowest best-candidate score that is
// recommended with confidence. Anything below gets the fallback shape.
const ConfidenceThreshold = 50.0

// Shape is the kind of reply composed for a turn.
type Shape string

const (
	ShapeChat          Shape = "chat"
	ShapeConfident     Shape = "confident"
	ShapeFallback      Shape = "fallback"
	ShapeNotFound      Shape = "not_found"
	ShapeNotUnderstood Shape = "not_understood"
)

var (
	repliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kino",
		Subsystem: "compose",
		Name:      "replies_total",
		Help:      "Composed replies by shape and status.",
	}, []string{"shape", "status"})

	composeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kino",
		Subsystem: "compose",
		Name:      "latency_seconds",
		Help:      "Reply generation latency.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"shape"})
)

// SelectShape decides the reply shape for a turn.
//
// Chat intent always yields ShapeChat. For a movie turn a nil best yields
// ShapeNotFound, a score of at least ConfidenceThreshold ShapeConfident, and
// anything lower ShapeFallback.
func SelectShape(intent agent.Intent, best *recommend.ScoredCandidate) Shape {
	if intent != agent.IntentMovie {
		return ShapeChat
	}
	switch {
	case best == nil || best.Item == nil:
		return ShapeNotFound
	case best.Score >= ConfidenceThreshold:
		return ShapeConfident
	default:
		return ShapeFallback
	}
}

// Config configures the composer.
type Config struct {
	// Model overrides the client's default model. Empty uses the default.
	Model string `json:"model"`

	// Timeout bounds one generation. Default: 60s
	Timeout time.Duration `json:"timeout"`

	// Temperature for generation. Default: 0.7
	Temperature float64 `json:"temperature"`

	// MaxTokens limits the reply. Zero uses the provider default.
	MaxTokens int `json:"max_tokens"`

	// NumCtx is the Ollama context window. Zero uses the model default.
	NumCtx int `json:"num_ctx"`

	// KeepAlive controls how long Ollama keeps the model loaded. Default: "24h"
	KeepAlive string `json:"keep_alive"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     60 * time.Second,
		Temperature: 0.7,
		KeepAlive:   "24h",
	}
}

// Composer generates replies with the MAIN reasoning role.
//
// # Description
//
// Every call sends the persona instruction, the last conversation.MaxTurns
// history turns (recommendation notes as system messages) and a freshly
// built user message. Generation failures are replaced with ApologyText.
//
// # Thread Safety
//
// Composer is safe for concurrent use.
type Composer struct {
	client providers.ChatClient
	config Config
	logger *slog.Logger
}

// NewComposer creates a composer.
func NewComposer(client providers.ChatClient, config Config) (*Composer, error) {
	if client == nil {
		return nil, fmt.Errorf("chat client must not be nil")
	}
	return &Composer{client: client, config: config, logger: slog.Default()}, nil
}

// Chat replies to casual conversation.
func (c *Composer) Chat(ctx context.Context, history []agent.Turn, utterance string) string {
	reply, _ := c.generate(ctx, ShapeChat, history, utterance)
	return reply
}

// Recommend replies to a movie turn with the shape chosen by SelectShape.
//
// # Outputs
//
//   - string: The reply text. NotFoundText for a nil best, ApologyText on failure.
//   - Shape: The shape used.
func (c *Composer) Recommend(ctx context.Context, history []agent.Turn, utterance string, best *recommend.ScoredCandidate) (string, Shape) {
	shape := SelectShape(agent.IntentMovie, best)
	switch shape {
	case ShapeNotFound:
		repliesTotal.WithLabelValues(string(ShapeNotFound), "fixed").Inc()
		return NotFoundText, shape
	case ShapeConfident:
		reply, _ := c.generate(ctx, shape, history, confidentPrompt(utterance, best.Item))
		return reply, shape
	default:
		reply, _ := c.generate(ctx, shape, history, fallbackPrompt(utterance, best.Item))
		return reply, shape
	}
}

// generate runs one reasoning call and returns the reply or ApologyText.
func (c *Composer) generate(ctx context.Context, shape Shape, history []agent.Turn, userContent string) (string, error) {
	ctx, span := otel.Tracer("kino.compose").Start(ctx, "Composer.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("compose.shape", string(shape)),
		attribute.Int("compose.history_turns", len(history)),
	)

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	opts := providers.ChatOptions{
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
		NumCtx:      c.config.NumCtx,
		KeepAlive:   c.config.KeepAlive,
		Model:       c.config.Model,
	}

	start := time.Now()
	reply, err := c.client.Chat(ctx, BuildMessages(history, userContent), opts)
	composeLatency.WithLabelValues(string(shape)).Observe(time.Since(start).Seconds())

	if err == nil && strings.TrimSpace(reply) == "" {
		err = fmt.Errorf("empty reply: %w", agent.ErrServiceUnavailable)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		repliesTotal.WithLabelValues(string(shape), "error").Inc()
		c.logger.Warn("Reply generation failed, using apology",
			slog.String("shape", string(shape)),
			slog.String("error", err.Error()),
			slog.String("kind", string(agent.ClassifyError(err))),
		)
		return ApologyText, err
	}

	repliesTotal.WithLabelValues(string(shape), "success").Inc()
	return strings.TrimSpace(reply), nil
}

// BuildMessages assembles persona, bounded history and the user message.
func BuildMessages(history []agent.Turn, userContent string) []datatypes.Message {
	if len(history) > conversation.MaxTurns {
		history = history[len(history)-conversation.MaxTurns:]
	}
	msgs := make([]datatypes.Message, 0, len(history)+2)
	msgs = append(msgs, datatypes.Message{Role: datatypes.RoleSystem, Content: personaPrompt})
	for _, turn := range history {
		msgs = append(msgs, turn.Message())
	}
	return append(msgs, datatypes.Message{Role: datatypes.RoleUser, Content: userContent})
}
