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
	"strings"
	"time"

	"github.com/AleutianAI/kino/services/kino/datatypes"
	"github.com/tmc/langchaingo/llms"
	lcollama "github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LangChainChatAdapter implements ChatClient on top of a langchaingo model.
//
// Description:
//
//	Lets Kino run against any backend langchaingo supports. The factory
//	builds it over langchaingo's Ollama driver; tests pass a fake llms.Model.
//	Format "json" maps to llms.WithJSONMode.
//
// Thread Safety: LangChainChatAdapter is safe for concurrent use if the
// wrapped model is.
type LangChainChatAdapter struct {
	model llms.Model
	name  string
}

// NewLangChainChatAdapter wraps an existing langchaingo model.
func NewLangChainChatAdapter(model llms.Model, modelName string) *LangChainChatAdapter {
	return &LangChainChatAdapter{model: model, name: modelName}
}

// NewLangChainOllama builds a LangChainChatAdapter using langchaingo's Ollama driver.
//
// Inputs:
//   - baseURL: Ollama server root.
//   - model: Model name, e.g. "llama3.1:8b".
//
// Outputs:
//   - *LangChainChatAdapter: The adapter.
//   - error: Non-nil if the driver cannot be constructed.
func NewLangChainOllama(baseURL, model string) (*LangChainChatAdapter, error) {
	lm, err := lcollama.New(
		lcollama.WithModel(model),
		lcollama.WithServerURL(baseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("langchain: creating ollama model: %w", err)
	}
	return NewLangChainChatAdapter(lm, model), nil
}

// Chat implements ChatClient using llms.Model.GenerateContent.
func (a *LangChainChatAdapter) Chat(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
	if a.model == nil {
		return "", fmt.Errorf("langchain client is nil")
	}

	ctx, span := otel.Tracer(chatTracerName).Start(ctx, "providers.LangChainChatAdapter.Chat",
		trace.WithAttributes(
			attribute.String("provider", ProviderLangChain),
			attribute.String("model", a.name),
			attribute.Int("message_count", len(messages)),
		),
	)
	defer span.End()

	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.TextParts(langChainRole(msg.Role), msg.Content))
	}

	var callOpts []llms.CallOption
	if opts.Temperature >= 0 {
		callOpts = append(callOpts, llms.WithTemperature(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}
	if opts.Format == "json" {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	startTime := time.Now()
	resp, err := a.model.GenerateContent(ctx, content, callOpts...)
	if err == nil && (resp == nil || len(resp.Choices) == 0) {
		err = fmt.Errorf("langchain: returned no choices")
	}
	recordChatMetrics(ProviderLangChain, time.Since(startTime), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	return resp.Choices[0].Content, nil
}

func langChainRole(role string) llms.ChatMessageType {
	switch strings.ToLower(role) {
	case datatypes.RoleSystem:
		return llms.ChatMessageTypeSystem
	case datatypes.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
