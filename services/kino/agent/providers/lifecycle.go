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
	"log/slog"
	"time"

	"github.com/AleutianAI/kino/services/llm"
)

// ollamaWarmer is the subset of llm.OllamaClient used for warmup.
type ollamaWarmer interface {
	WarmModel(ctx context.Context, model, keepAlive string) error
}

// OllamaLifecycleAdapter warms models on a local Ollama server.
//
// Thread Safety: OllamaLifecycleAdapter is safe for concurrent use.
type OllamaLifecycleAdapter struct {
	client ollamaWarmer
}

// NewOllamaLifecycleAdapter creates a lifecycle manager backed by client.
func NewOllamaLifecycleAdapter(client *llm.OllamaClient) *OllamaLifecycleAdapter {
	return &OllamaLifecycleAdapter{client: client}
}

// WarmModel loads model into memory and keeps it resident for opts.KeepAlive.
func (a *OllamaLifecycleAdapter) WarmModel(ctx context.Context, model string, opts WarmupOptions) error {
	if a.client == nil {
		return fmt.Errorf("ollama client is nil")
	}
	start := time.Now()
	if err := a.client.WarmModel(ctx, model, opts.KeepAlive); err != nil {
		return err
	}
	slog.Info("Ollama model warmed",
		slog.String("model", model),
		slog.String("keep_alive", opts.KeepAlive),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// IsLocal returns true.
func (a *OllamaLifecycleAdapter) IsLocal() bool {
	return true
}

// CloudLifecycleAdapter is a no-op lifecycle manager for cloud providers.
//
// Description:
//
//	Cloud providers (Anthropic, OpenAI, Gemini) don't need explicit model
//	loading. WarmModel logs a confirmation. IsLocal returns false.
//
// Thread Safety: CloudLifecycleAdapter is safe for concurrent use.
type CloudLifecycleAdapter struct {
	provider string
}

// NewCloudLifecycleAdapter creates a new CloudLifecycleAdapter.
func NewCloudLifecycleAdapter(provider string) *CloudLifecycleAdapter {
	return &CloudLifecycleAdapter{provider: provider}
}

// WarmModel is a no-op for cloud providers. Logs the action for visibility.
func (a *CloudLifecycleAdapter) WarmModel(ctx context.Context, model string, opts WarmupOptions) error {
	slog.Info("Cloud provider warmup (no-op)",
		slog.String("provider", a.provider),
		slog.String("model", model),
	)
	return nil
}

// IsLocal returns false.
func (a *CloudLifecycleAdapter) IsLocal() bool {
	return false
}
