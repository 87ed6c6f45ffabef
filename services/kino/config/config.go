// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads Kino's service configuration.
//
// Defaults are embedded from kino.yaml. An optional override file is merged
// on top, selected environment variables are applied last, and the result is
// validated before use.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent/providers"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed kino.yaml
var defaultConfigYAML []byte

// MaxConfigFileSize bounds override files.
const MaxConfigFileSize = 1 << 20

// Config is the complete service configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	LLM          LLMConfig          `yaml:"llm"`
	Speech       SpeechConfig       `yaml:"speech"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Interactions InteractionsConfig `yaml:"interactions"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gte=1,lte=65535"`
	StaticDir       string        `yaml:"static_dir" validate:"required"`
	StaticURL       string        `yaml:"static_url" validate:"required,startswith=/"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" validate:"gte=1024"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	// SessionIdleTTL evicts REST sessions idle for longer. Zero keeps them
	// until restart.
	SessionIdleTTL time.Duration `yaml:"session_idle_ttl" validate:"gte=0"`
}

// CatalogConfig locates the dataset.
type CatalogConfig struct {
	// Path is a local CSV path or a gs://bucket/object URL.
	Path             string `yaml:"path" validate:"required"`
	GenreAliasesPath string `yaml:"genre_aliases_path"`
	WatchAliases     bool   `yaml:"watch_aliases"`
}

// RoleSettings selects the provider and model of one reasoning role.
type RoleSettings struct {
	Provider string `yaml:"provider" validate:"omitempty,oneof=ollama langchain anthropic openai gemini"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url" validate:"omitempty,url"`
}

// RolesConfig holds the three reasoning roles.
type RolesConfig struct {
	Main   RoleSettings `yaml:"main"`
	Intent RoleSettings `yaml:"intent"`
	Filter RoleSettings `yaml:"filter"`
}

// GuardSettings configures the request queue and breaker around each role.
type GuardSettings struct {
	MaxConcurrent      int64         `yaml:"max_concurrent" validate:"gte=1"`
	RatePerSecond      float64       `yaml:"rate_per_second" validate:"gte=0"`
	Burst              int           `yaml:"burst" validate:"gte=1"`
	BreakerFailures    uint32        `yaml:"breaker_failures" validate:"gte=1"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout" validate:"gt=0"`
}

// ClassifierSettings configures intent classification.
type ClassifierSettings struct {
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxTokens int           `yaml:"max_tokens" validate:"gte=0"`
}

// ExtractorSettings configures filter extraction.
type ExtractorSettings struct {
	MaxAttempts    int           `yaml:"max_attempts" validate:"gte=1,lte=10"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" validate:"gt=0"`
	MaxTokens      int           `yaml:"max_tokens" validate:"gte=0"`
	NumCtx         int           `yaml:"num_ctx" validate:"gte=0"`
}

// ComposerSettings configures reply generation.
type ComposerSettings struct {
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	Temperature float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" validate:"gte=0"`
	NumCtx      int           `yaml:"num_ctx" validate:"gte=0"`
}

// LLMConfig configures every reasoning call.
type LLMConfig struct {
	KeepAlive  string             `yaml:"keep_alive"`
	Roles      RolesConfig        `yaml:"roles"`
	Guard      GuardSettings      `yaml:"guard"`
	Classifier ClassifierSettings `yaml:"classifier"`
	Extractor  ExtractorSettings  `yaml:"extractor"`
	Composer   ComposerSettings   `yaml:"composer"`
}

// WhisperSettings configures transcription.
type WhisperSettings struct {
	URL      string `yaml:"url" validate:"omitempty,url"`
	Model    string `yaml:"model"`
	Language string `yaml:"language" validate:"omitempty,len=2"`
}

// TTSSettings configures synthesis.
type TTSSettings struct {
	URL   string  `yaml:"url" validate:"omitempty,url"`
	Model string  `yaml:"model"`
	Voice string  `yaml:"voice"`
	Speed float64 `yaml:"speed" validate:"gte=0,lte=4"`
}

// SpeechConfig configures the audio collaborators.
type SpeechConfig struct {
	Enabled       bool            `yaml:"enabled"`
	MaxConcurrent int64           `yaml:"max_concurrent" validate:"gte=1"`
	Timeout       time.Duration   `yaml:"timeout" validate:"gt=0"`
	WarmupPhrase  string          `yaml:"warmup_phrase"`
	Whisper       WhisperSettings `yaml:"whisper"`
	TTS           TTSSettings     `yaml:"tts"`
}

// PipelineConfig bounds turn stages.
type PipelineConfig struct {
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout" validate:"gt=0"`
	SynthesizeTimeout time.Duration `yaml:"synthesize_timeout" validate:"gt=0"`
	TurnTimeout       time.Duration `yaml:"turn_timeout" validate:"gt=0"`
}

// InfluxSettings configures the InfluxDB sink. The token is read from
// INFLUX_TOKEN.
type InfluxSettings struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url" validate:"omitempty,url"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// InteractionsConfig selects the interaction sinks. Empty paths disable
// the corresponding sink.
type InteractionsConfig struct {
	CSVPath    string         `yaml:"csv_path"`
	BadgerPath string         `yaml:"badger_path"`
	Retention  time.Duration  `yaml:"retention" validate:"gte=0"`
	Influx     InfluxSettings `yaml:"influx"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	Exporter     string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	ServiceName  string `yaml:"service_name" validate:"required"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

var (
	defaultsOnce sync.Once
	defaults     Config
	defaultsErr  error

	validate = validator.New()
)

// Defaults returns a copy of the embedded defaults.
//
// Thread Safety: Safe for concurrent use; the YAML is parsed once.
func Defaults() (*Config, error) {
	defaultsOnce.Do(func() {
		if err := yaml.Unmarshal(defaultConfigYAML, &defaults); err != nil {
			defaultsErr = fmt.Errorf("parsing embedded kino.yaml: %w", err)
		}
	})
	if defaultsErr != nil {
		return nil, defaultsErr
	}
	cfg := defaults
	cfg.Server.AllowedOrigins = append([]string(nil), defaults.Server.AllowedOrigins...)
	return &cfg, nil
}

// ResolvePath returns flagValue, or KINO_CONFIG when the flag is empty.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("KINO_CONFIG")
}

// Load builds the effective configuration.
//
// Description:
//
//	Starts from the embedded defaults, merges the override file at path
//	(if non-empty), applies environment overrides and validates.
//
// Inputs:
//   - path: Override file. Empty means defaults plus environment only.
//
// Outputs:
//   - *Config: The validated configuration.
//   - error: Non-nil if the file cannot be read or parsed, or validation fails.
func Load(path string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if info.Size() > MaxConfigFileSize {
			return nil, fmt.Errorf("config %s exceeds maximum size (%d > %d)", path, info.Size(), MaxConfigFileSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		slog.Info("Loaded config override", slog.String("path", path))
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Speech.Enabled && (c.Speech.Whisper.URL == "" || c.Speech.TTS.URL == "") {
		return fmt.Errorf("invalid config: speech enabled but whisper or tts url is empty")
	}
	if c.Interactions.Influx.Enabled && (c.Interactions.Influx.Org == "" || c.Interactions.Influx.Bucket == "") {
		return fmt.Errorf("invalid config: influx enabled but org or bucket is empty")
	}
	if c.Telemetry.Exporter == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("invalid config: otlp exporter needs otlp_endpoint")
	}
	return nil
}

// applyEnv applies the supported environment overrides.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("KINO_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KINO_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("KINO_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("KINO_STATIC_DIR"); v != "" {
		cfg.Server.StaticDir = v
	}
	if v := os.Getenv("KINO_WHISPER_URL"); v != "" {
		cfg.Speech.Whisper.URL = v
	}
	if v := os.Getenv("KINO_TTS_URL"); v != "" {
		cfg.Speech.TTS.URL = v
	}
	if v := os.Getenv("KINO_SPEECH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KINO_SPEECH_ENABLED: %w", err)
		}
		cfg.Speech.Enabled = enabled
	}
	if v := os.Getenv("KINO_OTEL_EXPORTER"); v != "" {
		cfg.Telemetry.Exporter = strings.ToLower(v)
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("KINO_INFLUX_URL"); v != "" {
		cfg.Interactions.Influx.URL = v
		cfg.Interactions.Influx.Enabled = true
	}
	return nil
}

// RoleBase converts the configured roles into the provider layer's base
// configuration. Environment overrides are applied by
// providers.LoadRoleConfig.
func (c *LLMConfig) RoleBase() providers.RoleConfig {
	conv := func(r RoleSettings) providers.ProviderConfig {
		return providers.ProviderConfig{
			Provider:  r.Provider,
			Model:     r.Model,
			BaseURL:   r.BaseURL,
			KeepAlive: c.KeepAlive,
		}
	}
	return providers.RoleConfig{
		Main:   conv(c.Roles.Main),
		Intent: conv(c.Roles.Intent),
		Filter: conv(c.Roles.Filter),
	}
}

// GuardConfig returns the guard settings for one named role.
func (c *LLMConfig) GuardConfig(name string) providers.GuardConfig {
	return providers.GuardConfig{
		Name:               name,
		MaxConcurrent:      c.Guard.MaxConcurrent,
		RatePerSecond:      c.Guard.RatePerSecond,
		Burst:              c.Guard.Burst,
		BreakerFailures:    c.Guard.BreakerFailures,
		BreakerOpenTimeout: c.Guard.BreakerOpenTimeout,
	}
}
