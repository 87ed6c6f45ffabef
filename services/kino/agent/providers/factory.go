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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/kino/services/llm"
)

// ProviderFactory creates the right adapters based on provider configuration.
//
// Description:
//
//	ProviderFactory is the central creation point for all reasoning clients.
//	API keys are opened from their enclaves only here, at construction.
//
// Thread Safety: ProviderFactory is safe for concurrent use after construction.
type ProviderFactory struct {
	logger *slog.Logger
}

// NewProviderFactory creates a new ProviderFactory.
func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{logger: slog.Default()}
}

// CreateChatClient creates a ChatClient adapter for the given provider config.
//
// Inputs:
//   - cfg: Provider configuration specifying provider type and model.
//
// Outputs:
//   - ChatClient: The chat adapter for the specified provider.
//   - error: Non-nil if the provider is unsupported, a key is missing, or construction fails.
//
// Example:
//
//	client, err := factory.CreateChatClient(ProviderConfig{
//	    Provider: "ollama",
//	    Model:    "llama3.1:8b",
//	    BaseURL:  "http://localhost:11434",
//	})
func (f *ProviderFactory) CreateChatClient(cfg ProviderConfig) (ChatClient, error) {
	switch cfg.Provider {
	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = ResolveOllamaURL()
		}
		return NewLLMChatAdapter(ProviderOllama, llm.NewOllamaClient(baseURL, cfg.Model)), nil

	case ProviderLangChain:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = ResolveOllamaURL()
		}
		return NewLangChainOllama(baseURL, cfg.Model)

	case ProviderAnthropic:
		key, err := revealKey(cfg, "ANTHROPIC_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewLLMChatAdapter(ProviderAnthropic, llm.NewAnthropicClientWithConfig(key, cfg.Model, cfg.BaseURL)), nil

	case ProviderOpenAI:
		key, err := revealKey(cfg, "OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewLLMChatAdapter(ProviderOpenAI, llm.NewOpenAIClientWithConfig(key, cfg.Model, cfg.BaseURL)), nil

	case ProviderGemini:
		key, err := revealKey(cfg, "GEMINI_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewLLMChatAdapter(ProviderGemini, llm.NewGeminiClientWithConfig(key, cfg.Model, cfg.BaseURL)), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %q (valid: %v)", cfg.Provider, ValidProviders)
	}
}

// CreateLifecycleManager creates a ModelLifecycleManager for the given provider.
//
// Description:
//
//	Ollama and langchain (which also runs on Ollama) get a real lifecycle
//	manager. Cloud providers get a no-op manager.
func (f *ProviderFactory) CreateLifecycleManager(cfg ProviderConfig) (ModelLifecycleManager, error) {
	switch cfg.Provider {
	case ProviderOllama, ProviderLangChain:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = ResolveOllamaURL()
		}
		return NewOllamaLifecycleAdapter(llm.NewOllamaClient(baseURL, cfg.Model)), nil

	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
		return NewCloudLifecycleAdapter(cfg.Provider), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %q", cfg.Provider)
	}
}

func revealKey(cfg ProviderConfig, envName string) (string, error) {
	if !cfg.APIKey.IsSet() {
		return "", fmt.Errorf("%s required for %s provider", envName, cfg.Provider)
	}
	key, err := cfg.APIKey.Reveal()
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", envName, err)
	}
	return key, nil
}
