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
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/AleutianAI/kino/services/kino/datatypes"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardedChatClient_Success(t *testing.T) {
	inner := ChatFunc(func(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
		return "filme", nil
	})
	g := NewGuardedChatClient(inner, GuardConfig{Name: "test-success"})

	out, err := g.Chat(context.Background(), nil, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "filme", out)
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuardedChatClient_FailureWrapsServiceUnavailable(t *testing.T) {
	boom := errors.New("connection refused")
	inner := ChatFunc(func(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
		return "", boom
	})
	g := NewGuardedChatClient(inner, GuardConfig{Name: "test-failure"})

	_, err := g.Chat(context.Background(), nil, ChatOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrServiceUnavailable)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, agent.KindServiceUnavailable, agent.ClassifyError(err))
}

func TestGuardedChatClient_BreakerOpensAndFailsFast(t *testing.T) {
	var calls atomic.Int32
	inner := ChatFunc(func(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
		calls.Add(1)
		return "", errors.New("ollama: API returned status 500: down")
	})
	g := NewGuardedChatClient(inner, GuardConfig{
		Name:               "test-breaker",
		BreakerFailures:    2,
		BreakerOpenTimeout: time.Minute,
	})

	for i := 0; i < 2; i++ {
		_, err := g.Chat(context.Background(), nil, ChatOptions{})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.Chat(context.Background(), nil, ChatOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrServiceUnavailable)
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not reach the provider")
}

func TestGuardedChatClient_CanceledWhileQueued(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	inner := ChatFunc(func(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
		close(started)
		<-release
		return "ok", nil
	})
	g := NewGuardedChatClient(inner, GuardConfig{Name: "test-queue", MaxConcurrent: 1})

	done := make(chan error, 1)
	go func() {
		_, err := g.Chat(context.Background(), nil, ChatOptions{})
		done <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Chat(ctx, nil, ChatOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, agent.ErrServiceUnavailable)

	close(release)
	require.NoError(t, <-done)
}

func TestGuardedChatClient_CancellationDoesNotTrip(t *testing.T) {
	inner := ChatFunc(func(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	g := NewGuardedChatClient(inner, GuardConfig{Name: "test-cancel", BreakerFailures: 1})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := g.Chat(ctx, nil, ChatOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, agent.KindCanceled, agent.ClassifyError(err))
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuardedChatClient_RateLimit(t *testing.T) {
	inner := ChatFunc(func(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
		return "ok", nil
	})
	g := NewGuardedChatClient(inner, GuardConfig{Name: "test-rate", RatePerSecond: 0.001, Burst: 1})

	_, err := g.Chat(context.Background(), nil, ChatOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Chat(ctx, nil, ChatOptions{})
	require.Error(t, err, "second call must wait for a token and hit the deadline")
}
