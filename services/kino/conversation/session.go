// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation keeps per-channel conversation state: the bounded
// turn history the composer sees and the turn state machine position.
package conversation

import (
	"sync"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
)

// MaxTurns is the history cap. Older turns are dropped first.
const MaxTurns = 8

// State is a position in the turn state machine.
type State string

const (
	StateIdle         State = "idle"
	StateReceiving    State = "receiving"
	StateTranscribing State = "transcribing"
	StateClassifying  State = "classifying"
	StateMovieFlow    State = "movie_flow"
	StateChatFlow     State = "chat_flow"
	StateComposing    State = "composing"
	StateSynthesizing State = "synthesizing"
)

// Session is the context of one channel.
//
// Description:
//
//	Holds the last MaxTurns turns, the title recommended most recently and
//	the current state. A session belongs to exactly one channel and is never
//	shared across connections. Turns on a channel are processed one at a
//	time, but HTTP debug reads can happen concurrently, so access is locked.
//
// Thread Safety: Safe for concurrent use.
type Session struct {
	id        string
	createdAt time.Time

	mu           sync.Mutex
	turns        []agent.Turn
	state        State
	lastTitle    string
	lastActive   time.Time
	turnsHandled int
	busy         bool
}

// NewSession creates an idle session with an empty history.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		id:         id,
		createdAt:  now,
		state:      StateIdle,
		lastActive: now,
	}
}

// ID returns the channel identifier.
func (s *Session) ID() string {
	return s.id
}

// Append adds turns in order, then drops the oldest beyond MaxTurns.
func (s *Session) Append(turns ...agent.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(turns...)
}

func (s *Session) appendLocked(turns ...agent.Turn) {
	s.turns = append(s.turns, turns...)
	if over := len(s.turns) - MaxTurns; over > 0 {
		kept := make([]agent.Turn, MaxTurns)
		copy(kept, s.turns[over:])
		s.turns = kept
	}
	s.lastActive = time.Now()
}

// RecordExchange appends the user utterance, the reply, and, when title is
// non-empty, a recommendation note. The last recommended title is updated
// in the same step.
func (s *Session) RecordExchange(utterance, reply, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := []agent.Turn{agent.UserTurn(utterance), agent.AssistantTurn(reply)}
	if title != "" {
		turns = append(turns, agent.RecommendationNote(title))
		s.lastTitle = title
	}
	s.appendLocked(turns...)
	s.turnsHandled++
}

// Snapshot returns a copy of the current history, oldest first.
func (s *Session) Snapshot() []agent.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agent.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns held.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// State returns the current state machine position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves to state to and returns the previous state.
func (s *Session) Transition(to State) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.state
	s.state = to
	return from
}

// TryAcquire marks the session as running a turn. It returns false if a
// turn is already in progress; the caller must not start another one.
func (s *Session) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	s.lastActive = time.Now()
	return true
}

// Release ends the turn started by TryAcquire.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.lastActive = time.Now()
}

// LastActive returns when the session last changed or ran a turn.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// idleSince reports whether the session is not busy and has been inactive
// since before cutoff.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.busy && s.lastActive.Before(cutoff)
}

// LastRecommendedTitle returns the most recent recommendation, or "".
func (s *Session) LastRecommendedTitle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTitle
}

// Info is a point-in-time view of a session for debug endpoints.
type Info struct {
	ID                   string       `json:"id"`
	State                State        `json:"state"`
	Turns                []agent.Turn `json:"turns"`
	LastRecommendedTitle string       `json:"lastRecommendedTitle,omitempty"`
	TurnsHandled         int          `json:"turnsHandled"`
	CreatedAt            time.Time    `json:"createdAt"`
	LastActive           time.Time    `json:"lastActive"`
}

// Info returns a consistent snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]agent.Turn, len(s.turns))
	copy(turns, s.turns)
	return Info{
		ID:                   s.id,
		State:                s.state,
		Turns:                turns,
		LastRecommendedTitle: s.lastTitle,
		TurnsHandled:         s.turnsHandled,
		CreatedAt:            s.createdAt,
		LastActive:           s.lastActive,
	}
}
