// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_CapsHistory(t *testing.T) {
	s := NewSession("c1")
	for i := 0; i < 20; i++ {
		s.Append(agent.UserTurn(fmt.Sprintf("u%d", i)))
		assert.LessOrEqual(t, s.Len(), MaxTurns)
	}

	got := s.Snapshot()
	require.Len(t, got, MaxTurns)
	assert.Equal(t, "u12", got[0].Text, "oldest turns are dropped first")
	assert.Equal(t, "u19", got[7].Text)
}

func TestSession_RecordExchange(t *testing.T) {
	s := NewSession("c1")
	s.RecordExchange("oi", "Olá! Quer uma dica de filme?", "")
	assert.Equal(t, 2, s.Len())
	assert.Empty(t, s.LastRecommendedTitle())

	s.RecordExchange("quero ação", "Recomendo Avatar.", "Avatar")
	got := s.Snapshot()
	require.Len(t, got, 5)
	assert.Equal(t, agent.RecommendationNote("Avatar"), got[4])
	assert.Equal(t, "NOTA: Recomendou 'Avatar'.", got[4].Text)
	assert.Equal(t, "Avatar", s.LastRecommendedTitle())

	// Three more exchanges with notes push the total past the cap.
	for i := 0; i < 3; i++ {
		s.RecordExchange("mais um", "Que tal Titanic?", "Titanic")
	}
	got = s.Snapshot()
	require.Len(t, got, MaxTurns)
	assert.Equal(t, agent.RecommendationNote("Titanic"), got[MaxTurns-1])
	assert.Equal(t, 5, s.Info().TurnsHandled)
}

func TestSession_SnapshotIsACopy(t *testing.T) {
	s := NewSession("c1")
	s.Append(agent.UserTurn("a"))
	snap := s.Snapshot()
	snap[0].Text = "mutated"
	assert.Equal(t, "a", s.Snapshot()[0].Text)
}

func TestSession_Transition(t *testing.T) {
	s := NewSession("c1")
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, StateIdle, s.Transition(StateTranscribing))
	assert.Equal(t, StateTranscribing, s.Transition(StateClassifying))
	assert.Equal(t, StateClassifying, s.State())
}

func TestSession_ConcurrentAppend(t *testing.T) {
	s := NewSession("c1")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.RecordExchange("u", "a", "")
			_ = s.Info()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, MaxTurns, s.Len())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := r.Open()
	b := r.Open()
	require.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.Same(t, b, r.GetOrOpen(b.ID()))
	c := r.GetOrOpen("http-debug")
	assert.Equal(t, "http-debug", c.ID())
	assert.Equal(t, 3, r.Len())

	var ids []string
	r.Range(func(s *Session) bool {
		ids = append(ids, s.ID())
		return true
	})
	assert.Len(t, ids, 3)
	assert.IsNonDecreasing(t, ids)

	r.Close(a.ID())
	r.Close("unknown")
	_, ok = r.Get(a.ID())
	assert.False(t, ok)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_SessionsAreIsolated(t *testing.T) {
	r := NewRegistry()
	a, b := r.Open(), r.Open()
	a.RecordExchange("quero terror", "Recomendo It.", "It")
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.LastRecommendedTitle())
}

func TestSession_TryAcquire(t *testing.T) {
	s := NewSession("c1")
	require.True(t, s.TryAcquire())
	assert.False(t, s.TryAcquire(), "a second turn must wait for the first")
	s.Release()
	assert.True(t, s.TryAcquire())
}

func TestRegistry_SweepEvictsIdle(t *testing.T) {
	r := NewRegistry()
	idle := r.Open()
	busy := r.Open()
	require.True(t, busy.TryAcquire())

	assert.Equal(t, 0, r.Sweep(time.Now(), time.Hour), "fresh sessions are kept")

	later := time.Now().Add(2 * time.Hour)
	assert.Equal(t, 1, r.Sweep(later, time.Hour))
	_, ok := r.Get(idle.ID())
	assert.False(t, ok)
	_, ok = r.Get(busy.ID())
	assert.True(t, ok, "a session running a turn is never evicted")

	busy.Release()
	assert.Equal(t, 0, r.Sweep(later, time.Hour), "release refreshes activity")
}

func TestRegistry_RunJanitor(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 50; i++ {
		r.Open()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RunJanitor(ctx, 20*time.Millisecond, 5*time.Millisecond)
	}()

	require.Eventually(t, func() bool { return r.Len() == 0 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

func TestRegistry_RunJanitorDisabled(t *testing.T) {
	r := NewRegistry()
	r.Open()
	r.RunJanitor(context.Background(), 0, 0)
	assert.Equal(t, 1, r.Len())
}
