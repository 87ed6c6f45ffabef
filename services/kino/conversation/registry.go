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
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kino",
		Subsystem: "conversation",
		Name:      "active_sessions",
		Help:      "Sessions currently open.",
	})

	evictedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kino",
		Subsystem: "conversation",
		Name:      "evicted_sessions_total",
		Help:      "Sessions closed by the idle janitor.",
	})
)

// Registry maps channel IDs to sessions.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Open creates a session with a fresh random ID.
func (r *Registry) Open() *Session {
	return r.GetOrOpen(uuid.NewString())
}

// GetOrOpen returns the session for id, creating it if needed.
func (r *Registry) GetOrOpen(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := NewSession(id)
	r.sessions[id] = s
	activeSessions.Inc()
	return s
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Close forgets the session for id. Closing an unknown id is a no-op.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		activeSessions.Dec()
	}
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Range calls fn for each session in ID order until fn returns false.
func (r *Registry) Range(fn func(*Session) bool) {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	for _, s := range list {
		if !fn(s) {
			return
		}
	}
}

// Sweep closes every session that has been idle for longer than ttl at now.
// Sessions running a turn are never evicted. Returns the number closed.
func (r *Registry) Sweep(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.idleSince(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	if n > 0 {
		activeSessions.Sub(float64(n))
		evictedSessions.Add(float64(n))
	}
	return n
}

// RunJanitor evicts idle sessions every interval until ctx is done.
//
// # Description
//
// Sessions opened by stateless callers have no disconnect to close them.
// The janitor bounds the registry by closing sessions idle for longer than
// ttl. A non-positive ttl disables eviction and RunJanitor returns at once.
// A non-positive interval defaults to ttl/2.
//
// # Thread Safety
//
// Safe to run concurrently with every other Registry method.
func (r *Registry) RunJanitor(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.Sweep(now, ttl); n > 0 {
				slog.Debug("Evicted idle sessions", slog.Int("count", n), slog.Int("remaining", r.Len()))
			}
		}
	}
}
