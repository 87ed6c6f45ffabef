// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command kino runs the Kino voice movie assistant server.
//
// Usage:
//
//	kino [-config kino.yaml] [-port 8000] [-debug] [-log-format text|json]
//
// The browser client connects to GET /ws. Synthesized replies are served
// from /static, Prometheus metrics from /metrics and the REST API from
// /v1/kino.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/kino/services/kino/config"
	"github.com/AleutianAI/kino/services/kino/telemetry"
	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Override config file (default: $KINO_CONFIG)")
	port := flag.Int("port", 0, "Port to listen on (default: server.port from config)")
	debug := flag.Bool("debug", false, "Enable debug logging and gin debug mode")
	logFormat := flag.String("log-format", "", "Log format: text or json (default: text on a terminal, json otherwise)")
	flag.Parse()

	setupLogger(*debug, *logFormat)

	// Wipe sealed API keys on exit.
	defer memguard.Purge()

	if err := run(config.ResolvePath(*configPath), *port, *debug); err != nil {
		slog.Error("Kino server failed", slog.String("error", err.Error()))
		memguard.Purge()
		os.Exit(1)
	}
}

func run(configPath string, port int, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		ServiceName:  cfg.Telemetry.ServiceName,
		Version:      version,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("Telemetry flush failed", slog.String("error", err.Error()))
		}
	}()

	a, err := newApp(cfg, debug)
	if err != nil {
		return err
	}
	defer a.close()

	printBanner(cfg.Server.Port, a)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.serve(gctx, fmt.Sprintf(":%d", cfg.Server.Port))
	})
	g.Go(func() error {
		a.startup(gctx)
		return nil
	})
	g.Go(func() error {
		a.sessions.RunJanitor(gctx, cfg.Server.SessionIdleTTL, 0)
		return nil
	})
	if cfg.Catalog.WatchAliases && cfg.Catalog.GenreAliasesPath != "" {
		g.Go(func() error {
			if err := a.aliases.Watch(gctx); err != nil {
				slog.Warn("Genre alias hot reload disabled", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	return g.Wait()
}

// setupLogger installs the default slog logger.
func setupLogger(debug bool, format string) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if format == "" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler).With(slog.String("service", "kino")))
}

func printBanner(port int, a *app) {
	speech := "DISABLED"
	if a.synthesizer != nil {
		speech = "ENABLED (" + a.cfg.Speech.TTS.Voice + ")"
	}
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                          KINO SERVER                              ║
╠═══════════════════════════════════════════════════════════════════╣
║  Main model:   %-50s ║
║  Speech:       %-50s ║
║  Catalog:      %-50s ║
║                                                                   ║
║  ws://localhost:%d/ws                                          ║
║  curl http://localhost:%d/v1/kino/health                       ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Fprintf(os.Stderr, banner,
		truncate(a.roles.Main.Provider+"/"+a.roles.Main.Model, 50),
		truncate(speech, 50),
		truncate(a.cfg.Catalog.Path, 50),
		port, port,
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
