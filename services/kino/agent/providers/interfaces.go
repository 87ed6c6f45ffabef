// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package providers defines provider-agnostic interfaces and factories for
// the reasoning services used by Kino. Each role (Main composer, Intent
// classifier, Filter extractor) can use a different provider (Ollama,
// LangChain-backed Ollama, Anthropic, OpenAI, Gemini).
//
// Thread Safety:
//
//	All interfaces in this package must be implemented as safe for concurrent use.
package providers

import (
	"context"

	"github.com/AleutianAI/kino/services/kino/datatypes"
)

// ChatClient is the single interface the classifier, extractor and composer
// depend on.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ChatClient interface {
	// Chat sends messages and returns the assistant's response text.
	//
	// Inputs:
	//   - ctx: Context for cancellation and timeout.
	//   - messages: Conversation messages (system, user, assistant).
	//   - opts: Provider-agnostic chat options.
	//
	// Outputs:
	//   - string: The assistant's response text.
	//   - error: Non-nil on failure.
	Chat(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error)
}

// ChatFunc adapts a function to ChatClient.
type ChatFunc func(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error)

// Chat implements ChatClient.
func (f ChatFunc) Chat(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
	return f(ctx, messages, opts)
}

// ChatOptions holds provider-agnostic options for a chat request.
type ChatOptions struct {
	// Temperature controls randomness. Negative omits it from the request
	// so the provider default applies; 0.0 is an explicit "most deterministic".
	Temperature float64

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int

	// KeepAlive controls model residency (Ollama-specific).
	KeepAlive string

	// NumCtx sets the context window size (Ollama-specific).
	NumCtx int

	// Format requests structured output. "json" is the only supported value.
	Format string

	// Model overrides the adapter's default model for this request.
	Model string
}

// ModelLifecycleManager handles provider-specific model warmup.
//
// Description:
//
//	Ollama loads models lazily, so the first turn after boot would pay the
//	load time. Warming at startup moves that cost out of the first turn.
//	Cloud providers only log.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ModelLifecycleManager interface {
	// WarmModel pre-loads or validates a model.
	WarmModel(ctx context.Context, model string, opts WarmupOptions) error

	// IsLocal returns true if the provider manages local model residency.
	IsLocal() bool
}

// WarmupOptions configures model warmup behavior.
type WarmupOptions struct {
	// KeepAlive controls how long the model stays loaded (Ollama-specific).
	KeepAlive string
}
