// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/kino/services/kino/agent"
	"github.com/AleutianAI/kino/services/kino/compose"
	"github.com/AleutianAI/kino/services/kino/conversation"
	"github.com/AleutianAI/kino/services/kino/interactions"
	"github.com/AleutianAI/kino/services/kino/recommend"
	"github.com/AleutianAI/kino/services/kino/speech"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Config bounds the stages the orchestrator calls directly. Reasoning
// stages carry their own timeouts.
type Config struct {
	// TranscribeTimeout bounds transcription. Default: 60s
	TranscribeTimeout time.Duration

	// SynthesizeTimeout bounds synthesis. Default: 60s
	SynthesizeTimeout time.Duration

	// TurnTimeout bounds a whole turn. Default: 3m
	TurnTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TranscribeTimeout: 60 * time.Second,
		SynthesizeTimeout: 60 * time.Second,
		TurnTimeout:       3 * time.Minute,
	}
}

// Deps are the collaborators of a turn. Transcriber, Synthesizer and
// Recorder are optional.
type Deps struct {
	Classifier  IntentClassifier
	Extractor   FilterExtractor
	Scorer      CandidateScorer
	Composer    ReplyComposer
	Catalog     CatalogSource
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	Recorder    interactions.Recorder
}

// Orchestrator runs turns against per-channel sessions.
//
// # Description
//
// HandleText is the text core shared by every entry point. HandleAudio wraps
// it with transcription, synthesis and client notifications. Stage failures
// are mapped onto fixed replies or a silent return to idle; neither method
// lets an error or panic escape in a way that would end the channel.
//
// # Thread Safety
//
// Safe for concurrent use across sessions. Turns on one session must be
// serialized by the caller (one read loop per channel).
type Orchestrator struct {
	deps   Deps
	config Config
	logger *slog.Logger
	now    func() time.Time

	// Interactions are written in the background after the reply is ready.
	recMu      sync.Mutex
	recDrained bool
	recWG      sync.WaitGroup
}

// NewOrchestrator validates deps and applies config defaults.
func NewOrchestrator(deps Deps, config Config) (*Orchestrator, error) {
	switch {
	case deps.Classifier == nil:
		return nil, fmt.Errorf("classifier must not be nil")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor must not be nil")
	case deps.Scorer == nil:
		return nil, fmt.Errorf("scorer must not be nil")
	case deps.Composer == nil:
		return nil, fmt.Errorf("composer must not be nil")
	case deps.Catalog == nil:
		return nil, fmt.Errorf("catalog source must not be nil")
	}
	defaults := DefaultConfig()
	if config.TranscribeTimeout <= 0 {
		config.TranscribeTimeout = defaults.TranscribeTimeout
	}
	if config.SynthesizeTimeout <= 0 {
		config.SynthesizeTimeout = defaults.SynthesizeTimeout
	}
	if config.TurnTimeout <= 0 {
		config.TurnTimeout = defaults.TurnTimeout
	}
	return &Orchestrator{deps: deps, config: config, logger: slog.Default(), now: time.Now}, nil
}

// HandleText runs a text turn and leaves the session idle.
//
// # Outputs
//
//   - TurnResult: The reply and debug payload.
//   - error: agent.ErrEmptyTranscript for a blank utterance, the context
//     error if the caller went away, or a wrapped panic. Collaborator
//     failures are not errors; they shape the reply.
func (o *Orchestrator) HandleText(ctx context.Context, sess *conversation.Session, utterance string) (result TurnResult, err error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.HandleText")
	defer span.End()
	defer o.transition(sess, conversation.StateIdle)
	defer o.recoverTurn(sess, &err)

	ctx, cancel := context.WithTimeout(ctx, o.config.TurnTimeout)
	defer cancel()

	start := o.now()
	result, err = o.runText(ctx, sess, utterance)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		return result, err
	}
	result.Duration = o.now().Sub(start)
	observeTurn(ctx, "text", result)
	o.record(ctx, sess, result)
	return result, nil
}

// HandleAudio runs a spoken turn, notifying out as it progresses.
//
// # Description
//
// Emits "thinking" before transcription, the transcript once known and the
// reply at the end. An empty or failed transcription returns to idle and
// emits "idle" without touching the history. A failed synthesis still
// delivers the reply text with no audio URL.
//
// # Outputs
//
//   - error: Only emitter failures and caller cancellation are returned,
//     so the caller can stop reading from a dead channel.
func (o *Orchestrator) HandleAudio(ctx context.Context, sess *conversation.Session, audio []byte, out Emitter) (err error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.HandleAudio")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sess.ID()),
		attribute.Int("audio.bytes", len(audio)),
	)
	defer o.transition(sess, conversation.StateIdle)
	defer func() {
		if r := recover(); r != nil {
			o.logPanic(sess, r)
			err = errors.Join(fmt.Errorf("turn panicked: %v", r), o.emitIdle(ctx, out))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, o.config.TurnTimeout)
	defer cancel()
	start := o.now()

	o.transition(sess, conversation.StateReceiving)
	if err := out.State(ctx, EmitThinking); err != nil {
		return fmt.Errorf("emitting thinking state: %w", err)
	}

	o.transition(sess, conversation.StateTranscribing)
	text, err := o.transcribe(ctx, audio)
	if err != nil {
		o.stageFailed("transcribe", sess, err)
		if errors.Is(err, context.Canceled) {
			return err
		}
		return o.emitIdle(ctx, out)
	}
	if err := out.Transcript(ctx, text); err != nil {
		return fmt.Errorf("emitting transcript: %w", err)
	}
	return o.respond(ctx, sess, "audio", text, out, start)
}

// HandleUtterance runs a typed turn over a live channel. It behaves like
// HandleAudio without the transcription stage.
func (o *Orchestrator) HandleUtterance(ctx context.Context, sess *conversation.Session, utterance string, out Emitter) (err error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.HandleUtterance")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.ID()))
	defer o.transition(sess, conversation.StateIdle)
	defer func() {
		if r := recover(); r != nil {
			o.logPanic(sess, r)
			err = errors.Join(fmt.Errorf("turn panicked: %v", r), o.emitIdle(ctx, out))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, o.config.TurnTimeout)
	defer cancel()
	start := o.now()

	o.transition(sess, conversation.StateReceiving)
	if err := out.State(ctx, EmitThinking); err != nil {
		return fmt.Errorf("emitting thinking state: %w", err)
	}
	return o.respond(ctx, sess, "typed", utterance, out, start)
}

// respond runs the text core, synthesizes and emits the reply.
func (o *Orchestrator) respond(ctx context.Context, sess *conversation.Session, kind, text string, out Emitter, start time.Time) error {
	result, err := o.runText(ctx, sess, text)
	if err != nil {
		o.stageFailed("text", sess, err)
		if errors.Is(err, context.Canceled) {
			return err
		}
		return o.emitIdle(ctx, out)
	}

	o.transition(sess, conversation.StateSynthesizing)
	result.AudioURL = o.synthesize(ctx, sess, result.Reply)
	result.Duration = o.now().Sub(start)
	observeTurn(ctx, kind, result)

	if err := out.Reply(ctx, result); err != nil {
		o.record(ctx, sess, result)
		return fmt.Errorf("emitting reply: %w", err)
	}
	o.record(ctx, sess, result)
	return nil
}

// runText is the shared core: classify, run the movie or chat flow,
// compose, update history.
func (o *Orchestrator) runText(ctx context.Context, sess *conversation.Session, utterance string) (TurnResult, error) {
	utterance = strings.TrimSpace(utterance)
	result := TurnResult{SessionID: sess.ID(), Utterance: utterance}
	if utterance == "" {
		return result, agent.ErrEmptyTranscript
	}

	o.transition(sess, conversation.StateClassifying)
	intent := o.deps.Classifier.Classify(ctx, utterance)
	result.Debug.Intent = intent
	history := sess.Snapshot()

	if intent == agent.IntentMovie {
		if err := o.movieFlow(ctx, sess, history, &result); err != nil {
			return result, err
		}
	} else {
		o.transition(sess, conversation.StateChatFlow)
		o.transition(sess, conversation.StateComposing)
		result.Shape = compose.ShapeChat
		result.Reply = o.deps.Composer.Chat(ctx, history, utterance)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	sess.RecordExchange(utterance, result.Reply, result.Selected())
	o.logger.Info("Turn complete",
		slog.String("session_id", sess.ID()),
		slog.String("intent", intent.String()),
		slog.String("shape", string(result.Shape)),
		slog.String("selected", result.Selected()),
		slog.Float64("score", result.Debug.Score),
	)
	return result, nil
}

func (o *Orchestrator) movieFlow(ctx context.Context, sess *conversation.Session, history []agent.Turn, result *TurnResult) error {
	o.transition(sess, conversation.StateMovieFlow)

	filter, err := o.deps.Extractor.Extract(ctx, result.Utterance)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	result.Debug.ExtractedFilters = filter
	if err != nil || filter.IsEmpty() {
		if err != nil {
			o.stageFailed("extract", sess, err)
		}
		result.Shape = compose.ShapeNotUnderstood
		result.Reply = compose.NotUnderstoodText
		return nil
	}

	cands := o.deps.Scorer.Score(o.deps.Catalog.Catalog(), filter)
	result.Debug.CandidateCount = len(cands)

	var bestPtr *recommend.ScoredCandidate
	if best, ok := o.deps.Scorer.Best(cands); ok {
		bestPtr = &best
		title := best.Item.Title
		result.Debug.SelectedTitle = &title
		result.Debug.Score = best.Score
	}

	o.transition(sess, conversation.StateComposing)
	result.Reply, result.Shape = o.deps.Composer.Recommend(ctx, history, result.Utterance, bestPtr)
	return nil
}

func (o *Orchestrator) transcribe(ctx context.Context, audio []byte) (string, error) {
	if o.deps.Transcriber == nil {
		return "", fmt.Errorf("no transcriber configured: %w", agent.ErrServiceUnavailable)
	}
	tctx, cancel := context.WithTimeout(ctx, o.config.TranscribeTimeout)
	defer cancel()
	text, err := o.deps.Transcriber.Transcribe(tctx, audio)
	if err != nil {
		return "", err
	}
	if text = strings.TrimSpace(text); text == "" {
		return "", agent.ErrEmptyTranscript
	}
	return text, nil
}

// synthesize returns the audio URL, or "" when synthesis is unavailable.
func (o *Orchestrator) synthesize(ctx context.Context, sess *conversation.Session, reply string) string {
	if o.deps.Synthesizer == nil {
		return ""
	}
	sctx, cancel := context.WithTimeout(ctx, o.config.SynthesizeTimeout)
	defer cancel()
	url, err := o.deps.Synthesizer.Synthesize(sctx, reply)
	if err != nil {
		o.stageFailed("synthesize", sess, err)
		return ""
	}
	return url
}

// record writes the turn to the recorder without holding up the caller.
func (o *Orchestrator) record(ctx context.Context, sess *conversation.Session, result TurnResult) {
	if o.deps.Recorder == nil {
		return
	}
	in := interactions.Interaction{
		ID:             uuid.NewString(),
		SessionID:      sess.ID(),
		Timestamp:      o.now(),
		Utterance:      result.Utterance,
		Intent:         result.Debug.Intent,
		Technical:      interactions.TechnicalSummary(result.Debug.Intent, result.Debug.ExtractedFilters, result.Debug.Score),
		Reply:          result.Reply,
		Shape:          string(result.Shape),
		SelectedTitle:  result.Selected(),
		Score:          result.Debug.Score,
		CandidateCount: result.Debug.CandidateCount,
		Duration:       result.Duration,
	}
	// Recording outlives a canceled turn; the reply was already produced.
	rctx := context.WithoutCancel(ctx)

	o.recMu.Lock()
	if o.recDrained {
		o.recMu.Unlock()
		o.writeInteraction(rctx, in)
		return
	}
	o.recWG.Add(1)
	o.recMu.Unlock()

	go func() {
		defer o.recWG.Done()
		o.writeInteraction(rctx, in)
	}()
}

func (o *Orchestrator) writeInteraction(ctx context.Context, in interactions.Interaction) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := o.deps.Recorder.Record(ctx, in); err != nil {
		o.logger.Warn("Failed to record interaction",
			slog.String("session_id", in.SessionID),
			slog.String("error", err.Error()),
		)
	}
}

// Drain blocks until every background recording has finished. Turns that
// complete after Drain record synchronously. Call it before closing the
// recorder's stores.
func (o *Orchestrator) Drain() {
	o.recMu.Lock()
	o.recDrained = true
	o.recMu.Unlock()
	o.recWG.Wait()
}

func (o *Orchestrator) transition(sess *conversation.Session, to conversation.State) {
	from := sess.Transition(to)
	if from != to {
		stateTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
}

func (o *Orchestrator) stageFailed(stage string, sess *conversation.Session, err error) {
	kind := agent.ClassifyError(err)
	turnErrors.WithLabelValues(stage, string(kind)).Inc()
	level := slog.LevelWarn
	if kind == agent.KindEmptyTranscript || kind == agent.KindCanceled {
		level = slog.LevelDebug
	}
	o.logger.Log(context.Background(), level, "Turn stage failed",
		slog.String("session_id", sess.ID()),
		slog.String("stage", stage),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
}

func (o *Orchestrator) emitIdle(ctx context.Context, out Emitter) error {
	if err := out.State(context.WithoutCancel(ctx), EmitIdle); err != nil {
		return fmt.Errorf("emitting idle state: %w", err)
	}
	return nil
}

func (o *Orchestrator) recoverTurn(sess *conversation.Session, err *error) {
	if r := recover(); r != nil {
		o.logPanic(sess, r)
		*err = fmt.Errorf("turn panicked: %v", r)
	}
}

func (o *Orchestrator) logPanic(sess *conversation.Session, r any) {
	turnPanics.Inc()
	o.logger.Error("Recovered panic in turn",
		slog.String("session_id", sess.ID()),
		slog.Any("panic", r),
		slog.String("stack", string(debug.Stack())),
	)
}
