// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/kino/services/kino/datatypes"
	"github.com/AleutianAI/kino/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LLMChatAdapter wraps any services/llm client to implement ChatClient.
//
// Description:
//
//	Converts ChatOptions into llm.GenerationParams, opens a span and records
//	chat metrics labelled with the provider name. Ollama-specific options
//	are passed through and ignored by the cloud clients.
//
// Thread Safety: LLMChatAdapter is safe for concurrent use.
type LLMChatAdapter struct {
	provider string
	client   llm.LLMClient
}

// NewLLMChatAdapter creates a new LLMChatAdapter.
//
// Inputs:
//   - provider: Provider name used for span attributes and metric labels.
//   - client: The raw client to wrap. Must not be nil.
//
// Outputs:
//   - *LLMChatAdapter: The configured adapter.
func NewLLMChatAdapter(provider string, client llm.LLMClient) *LLMChatAdapter {
	return &LLMChatAdapter{provider: provider, client: client}
}

// Provider returns the provider label of the wrapped client.
func (a *LLMChatAdapter) Provider() string {
	return a.provider
}

// Chat implements ChatClient by delegating to the wrapped client.
func (a *LLMChatAdapter) Chat(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("%s client is nil", a.provider)
	}

	ctx, span := otel.Tracer(chatTracerName).Start(ctx, "providers.LLMChatAdapter.Chat",
		trace.WithAttributes(
			attribute.String("provider", a.provider),
			attribute.Int("message_count", len(messages)),
			attribute.Float64("temperature", opts.Temperature),
			attribute.String("format", opts.Format),
		),
	)
	defer span.End()

	startTime := time.Now()
	result, err := a.client.Chat(ctx, messages, generationParams(opts))
	duration := time.Since(startTime)

	recordChatMetrics(a.provider, duration, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.Int("response_len", len(result)))
	return result, nil
}

// generationParams converts provider-agnostic options to llm.GenerationParams.
// Negative temperature and zero limits are left unset so provider defaults apply.
func generationParams(opts ChatOptions) llm.GenerationParams {
	params := llm.GenerationParams{
		KeepAlive:     opts.KeepAlive,
		Format:        opts.Format,
		ModelOverride: opts.Model,
	}
	if opts.Temperature >= 0 {
		temp := float32(opts.Temperature)
		params.Temperature = &temp
	}
	if opts.MaxTokens > 0 {
		maxTokens := opts.MaxTokens
		params.MaxTokens = &maxTokens
	}
	if opts.NumCtx > 0 {
		numCtx := opts.NumCtx
		params.NumCtx = &numCtx
	}
	return params
}
