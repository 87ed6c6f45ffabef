// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm contains raw HTTP clients for the reasoning services Kino can
// talk to: a local Ollama server and the OpenAI, Anthropic and Gemini APIs.
//
// The clients only implement plain chat. Provider selection, metrics and
// request queueing live one layer up in services/kino/agent/providers.
package llm

import (
	"context"
	"strings"

	"github.com/AleutianAI/kino/services/kino/datatypes"
)

// GenerationParams holds optional per-request generation settings.
//
// Description:
//
//	Pointer fields are omitted from the request when nil so the provider
//	default applies. Ollama-only fields (KeepAlive, NumCtx, Format) are
//	ignored by the cloud clients, except Format which OpenAI maps to its
//	json_object response format.
type GenerationParams struct {
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
	Stop        []string

	// KeepAlive controls how long Ollama keeps the model loaded ("24h", "5m").
	KeepAlive string

	// NumCtx sets the Ollama context window.
	NumCtx *int

	// Format requests structured output. The only supported value is "json".
	Format string

	// ModelOverride replaces the client's default model for this request.
	ModelOverride string
}

// LLMClient is implemented by every provider client in this package.
//
// Thread Safety: Implementations must be safe for concurrent use.
type LLMClient interface {
	// Chat sends the conversation and returns the assistant's reply text.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)
}

// splitSystem separates system messages from the conversation.
//
// Anthropic and Gemini take the system prompt out of band. Kino sends more
// than one system message per request (persona plus recommendation notes),
// so they are joined in order with a blank line.
func splitSystem(messages []datatypes.Message) (string, []datatypes.Message) {
	var system []string
	rest := make([]datatypes.Message, 0, len(messages))
	for _, msg := range messages {
		if strings.EqualFold(msg.Role, datatypes.RoleSystem) {
			system = append(system, msg.Content)
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}
