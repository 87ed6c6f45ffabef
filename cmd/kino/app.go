// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent/providers"
	"github.com/AleutianAI/kino/services/kino/agent/routing"
	"github.com/AleutianAI/kino/services/kino/catalog"
	"github.com/AleutianAI/kino/services/kino/compose"
	"github.com/AleutianAI/kino/services/kino/config"
	"github.com/AleutianAI/kino/services/kino/conversation"
	"github.com/AleutianAI/kino/services/kino/interactions"
	"github.com/AleutianAI/kino/services/kino/pipeline"
	"github.com/AleutianAI/kino/services/kino/recommend"
	"github.com/AleutianAI/kino/services/kino/server"
	"github.com/AleutianAI/kino/services/kino/speech"
	badgerstore "github.com/AleutianAI/kino/services/kino/storage/badger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// app holds everything the server process owns.
type app struct {
	cfg    *config.Config
	roles  *providers.RoleConfig
	router *gin.Engine

	factory      *providers.ProviderFactory
	catalog      *catalog.Holder
	aliases      *recommend.GenreAliases
	audio        *speech.AudioStore
	synthesizer  speech.Synthesizer
	warmup       *server.Warmup
	sessions     *conversation.Registry
	orchestrator *pipeline.Orchestrator
	interactions *badgerstore.DB
	influx       *interactions.InfluxRecorder
}

// newApp builds the object graph from cfg. Nothing is dialed: reasoning,
// speech and Influx clients connect on first use, and the catalog is loaded
// later by loadCatalog.
func newApp(cfg *config.Config, debug bool) (*app, error) {
	a := &app{
		cfg:     cfg,
		factory: providers.NewProviderFactory(),
		catalog: catalog.NewHolder(nil),
		warmup:  server.NewWarmup(),
	}

	roles, err := providers.LoadRoleConfig(cfg.LLM.RoleBase())
	if err != nil {
		return nil, fmt.Errorf("resolving reasoning roles: %w", err)
	}
	a.roles = roles

	mainClient, err := a.guardedClient("main", roles.Main)
	if err != nil {
		return nil, err
	}
	intentClient, err := a.guardedClient("intent", roles.Intent)
	if err != nil {
		return nil, err
	}
	filterClient, err := a.guardedClient("filter", roles.Filter)
	if err != nil {
		return nil, err
	}

	classifierCfg := routing.DefaultClassifierConfig()
	classifierCfg.Timeout = cfg.LLM.Classifier.Timeout
	classifierCfg.MaxTokens = cfg.LLM.Classifier.MaxTokens
	classifierCfg.KeepAlive = cfg.LLM.KeepAlive
	classifier, err := routing.NewIntentClassifier(intentClient, classifierCfg)
	if err != nil {
		return nil, fmt.Errorf("creating intent classifier: %w", err)
	}

	extractorCfg := routing.DefaultExtractorConfig()
	extractorCfg.MaxAttempts = cfg.LLM.Extractor.MaxAttempts
	extractorCfg.AttemptTimeout = cfg.LLM.Extractor.AttemptTimeout
	extractorCfg.MaxTokens = cfg.LLM.Extractor.MaxTokens
	extractorCfg.NumCtx = cfg.LLM.Extractor.NumCtx
	extractorCfg.KeepAlive = cfg.LLM.KeepAlive
	extractor, err := routing.NewFilterExtractor(filterClient, extractorCfg)
	if err != nil {
		return nil, fmt.Errorf("creating filter extractor: %w", err)
	}

	composerCfg := compose.DefaultConfig()
	composerCfg.Timeout = cfg.LLM.Composer.Timeout
	composerCfg.Temperature = cfg.LLM.Composer.Temperature
	composerCfg.MaxTokens = cfg.LLM.Composer.MaxTokens
	composerCfg.NumCtx = cfg.LLM.Composer.NumCtx
	composerCfg.KeepAlive = cfg.LLM.KeepAlive
	composer, err := compose.NewComposer(mainClient, composerCfg)
	if err != nil {
		return nil, fmt.Errorf("creating composer: %w", err)
	}

	a.aliases, err = recommend.LoadGenreAliases(cfg.Catalog.GenreAliasesPath)
	if err != nil {
		return nil, fmt.Errorf("loading genre aliases: %w", err)
	}
	scorer := recommend.NewScorer(a.aliases)

	a.audio, err = speech.NewAudioStore(cfg.Server.StaticDir, cfg.Server.StaticURL)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Classifier: classifier,
		Extractor:  extractor,
		Scorer:     scorer,
		Composer:   composer,
		Catalog:    a.catalog,
	}
	if cfg.Speech.Enabled {
		queue, err := a.speechQueue()
		if err != nil {
			return nil, err
		}
		deps.Transcriber = queue
		deps.Synthesizer = queue
		a.synthesizer = queue
	} else {
		slog.Warn("Speech disabled, audio turns will return to idle")
	}

	recorder, lister, err := a.recorders()
	if err != nil {
		a.close()
		return nil, err
	}
	deps.Recorder = recorder

	orchestrator, err := pipeline.NewOrchestrator(deps, pipeline.Config{
		TranscribeTimeout: cfg.Pipeline.TranscribeTimeout,
		SynthesizeTimeout: cfg.Pipeline.SynthesizeTimeout,
		TurnTimeout:       cfg.Pipeline.TurnTimeout,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.orchestrator = orchestrator
	a.sessions = conversation.NewRegistry()

	opts := server.Options{
		Turns:          orchestrator,
		Sessions:       a.sessions,
		Catalog:        a.catalog,
		Scorer:         scorer,
		Warmup:         a.warmup,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxMessageSize: cfg.Server.MaxMessageBytes,
		Version:        version,
	}
	if lister != nil {
		opts.Interactions = lister
	}
	handlers, err := server.NewHandlers(opts)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating handlers: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	if debug {
		router.Use(gin.Logger())
	}
	router.Static(a.audio.URLPrefix(), a.audio.Dir())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	server.RegisterWebSocket(router, handlers)
	server.RegisterRoutes(router.Group("/v1"), handlers)
	a.router = router

	return a, nil
}

func (a *app) guardedClient(name string, cfg providers.ProviderConfig) (providers.ChatClient, error) {
	client, err := a.factory.CreateChatClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", name, err)
	}
	slog.Info("Reasoning role configured",
		slog.String("role", name),
		slog.String("provider", cfg.Provider),
		slog.String("model", cfg.Model),
	)
	return providers.NewGuardedChatClient(client, a.cfg.LLM.GuardConfig(name)), nil
}

func (a *app) speechQueue() (*speech.Queue, error) {
	sc := a.cfg.Speech
	key := providers.NewSecret(os.Getenv("KINO_SPEECH_API_KEY"))

	whisper, err := speech.NewWhisperClient(speech.WhisperConfig{
		BaseURL:  sc.Whisper.URL,
		Model:    sc.Whisper.Model,
		Language: sc.Whisper.Language,
		Timeout:  sc.Timeout,
		APIKey:   key,
	})
	if err != nil {
		return nil, err
	}
	tts, err := speech.NewTTSClient(speech.TTSConfig{
		BaseURL: sc.TTS.URL,
		Model:   sc.TTS.Model,
		Voice:   sc.TTS.Voice,
		Speed:   sc.TTS.Speed,
		Timeout: sc.Timeout,
		APIKey:  key,
	}, a.audio)
	if err != nil {
		return nil, err
	}
	return speech.NewQueue(sc.MaxConcurrent, whisper, tts), nil
}

// recorders opens the configured interaction sinks. The Badger store is
// also returned as the lister behind /v1/kino/interactions.
func (a *app) recorders() (interactions.Recorder, server.InteractionLister, error) {
	ic := a.cfg.Interactions
	var sinks []interactions.Named
	var lister server.InteractionLister

	if ic.CSVPath != "" {
		sinks = append(sinks, interactions.Named{Name: "csv", Recorder: interactions.NewCSVRecorder(ic.CSVPath)})
	}

	if ic.BadgerPath != "" {
		dbCfg := badgerstore.DefaultConfig()
		dbCfg.Path = ic.BadgerPath
		db, err := badgerstore.OpenDB(dbCfg)
		if err != nil {
			slog.Warn("Interaction store unavailable, continuing without it",
				slog.String("path", ic.BadgerPath),
				slog.String("error", err.Error()),
			)
		} else {
			a.interactions = db
			store := interactions.NewBadgerStore(db, ic.Retention)
			sinks = append(sinks, interactions.Named{Name: "badger", Recorder: store})
			lister = store
		}
	}

	if ic.Influx.Enabled {
		influx, err := interactions.NewInfluxRecorder(interactions.InfluxConfig{
			URL:         ic.Influx.URL,
			Org:         ic.Influx.Org,
			Bucket:      ic.Influx.Bucket,
			Token:       providers.NewSecret(os.Getenv("INFLUX_TOKEN")),
			Measurement: ic.Influx.Measurement,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating influx recorder: %w", err)
		}
		a.influx = influx
		sinks = append(sinks, interactions.Named{Name: "influx", Recorder: influx})
	}

	multi := interactions.NewMulti(sinks...)
	slog.Info("Interaction sinks configured", slog.Int("sinks", multi.Len()))
	return multi, lister, nil
}

// loadCatalog loads the dataset into the holder. Failure leaves the empty
// catalog in place.
func (a *app) loadCatalog(ctx context.Context) {
	cat, _ := catalog.LoadOrEmpty(ctx, catalog.NewCSVLoader(a.cfg.Catalog.Path))
	a.catalog.Store(cat)
}

// warmModels loads each distinct local model once.
func (a *app) warmModels(ctx context.Context) {
	seen := make(map[string]bool)
	for _, rc := range []providers.ProviderConfig{a.roles.Main, a.roles.Intent, a.roles.Filter} {
		key := rc.Provider + "|" + rc.BaseURL + "|" + rc.Model
		if seen[key] {
			continue
		}
		seen[key] = true

		lifecycle, err := a.factory.CreateLifecycleManager(rc)
		if err != nil {
			slog.Warn("No lifecycle manager", slog.String("provider", rc.Provider), slog.String("error", err.Error()))
			continue
		}
		start := time.Now()
		if err := lifecycle.WarmModel(ctx, rc.Model, providers.WarmupOptions{KeepAlive: a.cfg.LLM.KeepAlive}); err != nil {
			slog.Warn("Model warmup failed, first turn will be slow",
				slog.String("provider", rc.Provider),
				slog.String("model", rc.Model),
				slog.String("error", err.Error()),
			)
			continue
		}
		slog.Info("Model warm",
			slog.String("provider", rc.Provider),
			slog.String("model", rc.Model),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// speakWarmupPhrase voices the startup phrase, which also loads the TTS
// model.
func (a *app) speakWarmupPhrase(ctx context.Context) {
	phrase := a.cfg.Speech.WarmupPhrase
	if a.synthesizer == nil || phrase == "" {
		return
	}
	url, err := a.synthesizer.Synthesize(ctx, phrase)
	if err != nil {
		slog.Warn("Warmup phrase synthesis failed", slog.String("error", err.Error()))
		return
	}
	slog.Info("Warmup phrase ready", slog.String("audio_url", url))
}

// startup runs the slow initialization in the background and always marks
// warmup complete, even after a panic, so the server never stays in 503.
func (a *app) startup(ctx context.Context) {
	defer a.warmup.MarkComplete()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Startup panicked, serving with partial initialization",
				slog.Any("panic", r))
		}
	}()

	start := time.Now()
	a.loadCatalog(ctx)
	a.warmModels(ctx)
	a.speakWarmupPhrase(ctx)
	slog.Info("Server ready to accept turns", slog.Duration("startup", time.Since(start)))
}

// close releases stores. Safe to call on a partially built app.
func (a *app) close() {
	if a.orchestrator != nil {
		a.orchestrator.Drain()
	}
	if a.influx != nil {
		a.influx.Close()
	}
	if a.interactions != nil {
		if err := a.interactions.Close(); err != nil {
			slog.Warn("Failed to close interaction store", slog.String("error", err.Error()))
		}
	}
	if a.audio != nil {
		if n, err := a.audio.Cleanup(); err != nil {
			slog.Warn("Audio cleanup failed", slog.String("error", err.Error()))
		} else if n > 0 {
			slog.Info("Removed generated audio", slog.Int("files", n))
		}
	}
}

// serve runs the HTTP server until ctx ends, then drains it.
func (a *app) serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting Kino server", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listening on %s: %w", addr, err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down Kino server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
