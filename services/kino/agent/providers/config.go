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
	"os"
	"strings"
)

// Provider constants for supported reasoning providers.
const (
	ProviderOllama    = "ollama"
	ProviderLangChain = "langchain"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// Role constants for the reasoning roles in a Kino turn.
const (
	RoleMain   = "MAIN"
	RoleIntent = "INTENT"
	RoleFilter = "FILTER"
)

// ProviderConfig holds the configuration for a single provider instance.
type ProviderConfig struct {
	// Provider is the backend to use: "ollama", "langchain", "anthropic", "openai", "gemini".
	Provider string

	// Model is the provider-specific model identifier, e.g. "llama3.1:8b".
	Model string

	// BaseURL is an optional endpoint override. Ollama and langchain
	// default to ResolveOllamaURL().
	BaseURL string

	// APIKey is the sealed key for cloud providers.
	APIKey *Secret

	// KeepAlive controls model residency (Ollama-specific).
	KeepAlive string

	// NumCtx sets the context window size (Ollama-specific).
	NumCtx int
}

// IsLocal reports whether the provider runs against a local Ollama server.
func (c ProviderConfig) IsLocal() bool {
	return c.Provider == ProviderOllama || c.Provider == ProviderLangChain
}

// RoleConfig holds per-role provider configurations.
type RoleConfig struct {
	Main   ProviderConfig
	Intent ProviderConfig
	Filter ProviderConfig
}

// ValidProviders contains the set of valid provider names.
var ValidProviders = []string{ProviderOllama, ProviderLangChain, ProviderAnthropic, ProviderOpenAI, ProviderGemini}

func isValidProvider(provider string) bool {
	for _, p := range ValidProviders {
		if provider == p {
			return true
		}
	}
	return false
}

// ResolveOllamaURL resolves the Ollama server URL from environment variables.
//
// Description:
//
//	Resolution order:
//	  1. OLLAMA_BASE_URL (preferred)
//	  2. OLLAMA_URL (deprecated, emits warning)
//	  3. http://localhost:11434 (default)
func ResolveOllamaURL() string {
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		return url
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		slog.Warn("OLLAMA_URL is deprecated, use OLLAMA_BASE_URL instead",
			slog.String("ollama_url", url))
		return url
	}
	return "http://localhost:11434"
}

// InferProvider infers the provider from a model name prefix.
//
// Description:
//
//	Maps known model name prefixes to provider names:
//	  - "claude-*" -> "anthropic"
//	  - "gpt-*" -> "openai"
//	  - "gemini-*" -> "gemini"
//	  - anything else -> "" (unknown)
//
//	Used by LoadRoleConfig when KINO_<ROLE>_MODEL is set without a provider.
func InferProvider(model string) string {
	if strings.HasPrefix(model, "claude-") {
		return ProviderAnthropic
	}
	if strings.HasPrefix(model, "gpt-") {
		return ProviderOpenAI
	}
	if strings.HasPrefix(model, "gemini-") {
		return ProviderGemini
	}
	return ""
}

// LoadRoleConfig applies environment overrides to the configured roles.
//
// Description:
//
//	Starts from base (normally built from kino.yaml) and reads
//	KINO_<ROLE>_PROVIDER and KINO_<ROLE>_MODEL for each role.
//
// Resolution order per role:
//  1. KINO_<ROLE>_PROVIDER, else the base provider
//  2. If only KINO_<ROLE>_MODEL is set, the provider inferred from its prefix
//  3. Fallback: "ollama"
//  4. KINO_<ROLE>_MODEL, else the base model
//
// Inputs:
//   - base: Per-role defaults. Zero-valued fields are filled from the environment.
//
// Outputs:
//   - *RoleConfig: Per-role configurations with endpoints and sealed keys.
//   - error: Non-nil if a provider is invalid or a role ends with no model.
//
// Example:
//
//	cfg, err := LoadRoleConfig(RoleConfig{
//	    Main:   ProviderConfig{Provider: "ollama", Model: "llama3.1:8b"},
//	    Intent: ProviderConfig{Provider: "ollama", Model: "llama3.1:8b"},
//	    Filter: ProviderConfig{Provider: "ollama", Model: "llama3.1:8b"},
//	})
func LoadRoleConfig(base RoleConfig) (*RoleConfig, error) {
	mainCfg, err := loadSingleRoleConfig(RoleMain, base.Main)
	if err != nil {
		return nil, fmt.Errorf("loading main role config: %w", err)
	}

	intentCfg, err := loadSingleRoleConfig(RoleIntent, base.Intent)
	if err != nil {
		return nil, fmt.Errorf("loading intent role config: %w", err)
	}

	filterCfg, err := loadSingleRoleConfig(RoleFilter, base.Filter)
	if err != nil {
		return nil, fmt.Errorf("loading filter role config: %w", err)
	}

	return &RoleConfig{
		Main:   mainCfg,
		Intent: intentCfg,
		Filter: filterCfg,
	}, nil
}

func loadSingleRoleConfig(role string, base ProviderConfig) (ProviderConfig, error) {
	providerEnv := fmt.Sprintf("KINO_%s_PROVIDER", role)
	modelEnv := fmt.Sprintf("KINO_%s_MODEL", role)

	cfg := base

	if model := os.Getenv(modelEnv); model != "" {
		cfg.Model = model
		if os.Getenv(providerEnv) == "" {
			if inferred := InferProvider(model); inferred != "" {
				cfg.Provider = inferred
			}
		}
	}
	if provider := os.Getenv(providerEnv); provider != "" {
		cfg.Provider = strings.ToLower(provider)
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderOllama
	}

	if !isValidProvider(cfg.Provider) {
		return ProviderConfig{}, fmt.Errorf("invalid provider %q for %s (valid: %v)", cfg.Provider, providerEnv, ValidProviders)
	}
	if cfg.Model == "" {
		return ProviderConfig{}, fmt.Errorf("%s is %q but no model specified (set %s or llm.roles in config)",
			providerEnv, cfg.Provider, modelEnv)
	}

	switch cfg.Provider {
	case ProviderOllama, ProviderLangChain:
		if cfg.BaseURL == "" {
			cfg.BaseURL = ResolveOllamaURL()
		}
	case ProviderAnthropic:
		if !cfg.APIKey.IsSet() {
			cfg.APIKey = NewSecret(os.Getenv("ANTHROPIC_API_KEY"))
		}
	case ProviderOpenAI:
		if !cfg.APIKey.IsSet() {
			cfg.APIKey = NewSecret(os.Getenv("OPENAI_API_KEY"))
		}
	case ProviderGemini:
		if !cfg.APIKey.IsSet() {
			cfg.APIKey = NewSecret(os.Getenv("GEMINI_API_KEY"))
		}
	}

	return cfg, nil
}
