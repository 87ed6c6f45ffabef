// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/kino/services/kino/conversation"
	"github.com/AleutianAI/kino/services/kino/pipeline"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// DefaultMaxMessageSize bounds one client frame. Recordings arrive
	// base64 encoded inside JSON.
	DefaultMaxMessageSize = 16 << 20

	inboxSize = 4
	sendSize  = 16
)

var errChannelClosed = errors.New("channel closed")

// channel is one websocket connection and its session.
//
// Three goroutines cooperate: the read pump decodes frames into the inbox,
// the turn loop runs turns one at a time, and the write pump owns every
// write to the connection. Frames that do not decode, and frames that
// arrive while the inbox is full, are answered with an idle state and the
// channel stays open. Only transport errors end the read pump. When the read pump stops the channel context is
// canceled, which aborts any turn in flight.
type channel struct {
	conn    *websocket.Conn
	sess    *conversation.Session
	turns   TurnHandler
	maxSize int64
	logger  *slog.Logger

	send   chan any
	closed chan struct{}
}

func newChannel(conn *websocket.Conn, sess *conversation.Session, turns TurnHandler, maxSize int64) *channel {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &channel{
		conn:    conn,
		sess:    sess,
		turns:   turns,
		maxSize: maxSize,
		logger:  slog.With("session_id", sess.ID()),
		send:    make(chan any, sendSize),
		closed:  make(chan struct{}),
	}
}

// run blocks until the client disconnects or ctx is canceled.
func (ch *channel) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbox := make(chan ClientMessage, inboxSize)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ch.writePump(ctx)
	}()
	go func() {
		defer wg.Done()
		ch.turnLoop(ctx, inbox)
	}()

	ch.readPump(ctx, inbox)
	cancel()
	wg.Wait()
	_ = ch.conn.Close()
}

func (ch *channel) readPump(ctx context.Context, inbox chan<- ClientMessage) {
	ch.conn.SetReadLimit(ch.maxSize)
	if err := ch.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		ch.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
		return
	}
	ch.conn.SetPongHandler(func(string) error {
		return ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				ch.logger.Warn("Unexpected websocket close", slog.String("error", err.Error()))
			}
			return
		}
		// Any client frame proves liveness.
		_ = ch.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// An empty message is routed as unknown and answered with idle.
			ch.logger.Warn("Malformed client frame", slog.String("error", err.Error()))
			msg = ClientMessage{}
		}

		select {
		case inbox <- msg:
		case <-ctx.Done():
			return
		default:
			wsDropped.Inc()
			ch.logger.Warn("Dropping client frame, turns already queued")
			ch.notifyDropped(ctx)
		}
	}
}

// notifyDropped sends an idle state for a discarded frame. It never blocks;
// the notice is skipped when the send buffer is full.
func (ch *channel) notifyDropped(ctx context.Context) {
	select {
	case ch.send <- StateMessage{Tipo: TipoEstado, Valor: pipeline.EmitIdle}:
		wsMessages.WithLabelValues("out", TipoEstado).Inc()
	case <-ctx.Done():
	default:
	}
}

func (ch *channel) turnLoop(ctx context.Context, inbox <-chan ClientMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-inbox:
			if err := ch.handle(ctx, msg); err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, errChannelClosed) {
					ch.logger.Warn("Turn ended with error", slog.String("error", err.Error()))
				}
			}
		}
	}
}

func (ch *channel) handle(ctx context.Context, msg ClientMessage) error {
	switch {
	case msg.AudioData != "":
		wsMessages.WithLabelValues("in", "audio").Inc()
		audio, err := base64.StdEncoding.DecodeString(msg.AudioData)
		if err != nil {
			ch.logger.Warn("Discarding undecodable audio frame", slog.String("error", err.Error()))
			return ch.State(ctx, pipeline.EmitIdle)
		}
		return ch.turns.HandleAudio(ctx, ch.sess, audio, ch)
	case strings.TrimSpace(msg.Texto) != "":
		wsMessages.WithLabelValues("in", "texto").Inc()
		return ch.turns.HandleUtterance(ctx, ch.sess, msg.Texto, ch)
	default:
		wsMessages.WithLabelValues("in", "unknown").Inc()
		return ch.State(ctx, pipeline.EmitIdle)
	}
}

func (ch *channel) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(ch.closed)
		_ = ch.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ch.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-ch.send:
			if err := ch.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				ch.logger.Error("Failed to set write deadline", slog.String("error", err.Error()))
				return
			}
			if err := ch.conn.WriteJSON(msg); err != nil {
				ch.logger.Warn("Failed to write websocket frame", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			if err := ch.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := ch.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ch *channel) enqueue(ctx context.Context, kind string, msg any) error {
	select {
	case ch.send <- msg:
		wsMessages.WithLabelValues("out", kind).Inc()
		return nil
	case <-ch.closed:
		return errChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State implements pipeline.Emitter.
func (ch *channel) State(ctx context.Context, value string) error {
	return ch.enqueue(ctx, TipoEstado, StateMessage{Tipo: TipoEstado, Valor: value})
}

// Transcript implements pipeline.Emitter.
func (ch *channel) Transcript(ctx context.Context, text string) error {
	return ch.enqueue(ctx, TipoTranscricao, TranscriptMessage{Tipo: TipoTranscricao, Texto: text})
}

// Reply implements pipeline.Emitter.
func (ch *channel) Reply(ctx context.Context, result pipeline.TurnResult) error {
	return ch.enqueue(ctx, TipoResposta, NewReplyMessage(result))
}
