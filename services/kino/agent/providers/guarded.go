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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/AleutianAI/kino/services/kino/datatypes"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// GuardConfig configures a GuardedChatClient.
type GuardConfig struct {
	// Name labels metrics and the breaker, e.g. "intent".
	Name string

	// MaxConcurrent is the number of calls allowed in flight. Default 1,
	// which serializes calls into a FIFO-ish queue.
	MaxConcurrent int64

	// RatePerSecond caps call starts. Zero disables rate limiting.
	RatePerSecond float64

	// Burst is the limiter bucket size. Default 1.
	Burst int

	// BreakerFailures is the consecutive failure count that opens the breaker. Default 5.
	BreakerFailures uint32

	// BreakerOpenTimeout is how long the breaker stays open. Default 30s.
	BreakerOpenTimeout time.Duration
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.Name == "" {
		c.Name = "chat"
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = 30 * time.Second
	}
	return c
}

// GuardedChatClient wraps a ChatClient with a request queue, a rate limiter
// and a circuit breaker.
//
// Description:
//
//	Calls wait for a semaphore slot (honoring ctx), then for a rate token,
//	then run through the breaker. Every provider failure and every breaker
//	rejection is returned wrapped in agent.ErrServiceUnavailable. Caller
//	cancellation is returned as-is and does not count against the breaker.
//
// Thread Safety: GuardedChatClient is safe for concurrent use.
type GuardedChatClient struct {
	inner   ChatClient
	name    string
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
}

// NewGuardedChatClient wraps inner.
//
// Inputs:
//   - inner: The client to guard. Must not be nil.
//   - cfg: Guard settings. Zero values take defaults.
//
// Outputs:
//   - *GuardedChatClient: The guarded client.
func NewGuardedChatClient(inner ChatClient, cfg GuardConfig) *GuardedChatClient {
	cfg = cfg.withDefaults()

	g := &GuardedChatClient{
		inner: inner,
		name:  cfg.Name,
		sem:   semaphore.NewWeighted(cfg.MaxConcurrent),
	}
	if cfg.RatePerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}

	failures := cfg.BreakerFailures
	g.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Reasoning circuit breaker state change",
				slog.String("client", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			guardBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
	guardBreakerState.WithLabelValues(cfg.Name).Set(0)

	return g
}

// Chat implements ChatClient.
func (g *GuardedChatClient) Chat(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
	queued := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		guardRejectedTotal.WithLabelValues(g.name, "canceled").Inc()
		return "", fmt.Errorf("%s: waiting for request slot: %w", g.name, err)
	}
	defer g.sem.Release(1)
	guardQueueWait.WithLabelValues(g.name).Observe(time.Since(queued).Seconds())

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			guardRejectedTotal.WithLabelValues(g.name, "canceled").Inc()
			return "", fmt.Errorf("%s: waiting for rate limit: %w", g.name, err)
		}
	}

	result, err := g.breaker.Execute(func() (string, error) {
		return g.inner.Chat(ctx, messages, opts)
	})
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		guardRejectedTotal.WithLabelValues(g.name, "breaker_open").Inc()
		return "", fmt.Errorf("%s: %w: %v", g.name, agent.ErrServiceUnavailable, err)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return "", fmt.Errorf("%s: %w", g.name, err)
	default:
		return "", fmt.Errorf("%s: %w: %w", g.name, agent.ErrServiceUnavailable, err)
	}
}

// State returns the breaker state, for health reporting.
func (g *GuardedChatClient) State() gobreaker.State {
	return g.breaker.State()
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
