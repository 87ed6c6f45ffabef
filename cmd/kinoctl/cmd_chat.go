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
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/kino/services/kino/pipeline"
	"github.com/AleutianAI/kino/services/kino/server"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

const turnReadTimeout = 5 * time.Minute

func newChatCmd() *cobra.Command {
	var (
		serverURL string
		audioPath string
		showDebug bool
		plain     bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a running Kino server over the websocket channel",
		Long: `Each line typed is sent as a text turn. On a terminal this opens a full
screen chat; --plain or piped input uses line mode. With --audio, the file is sent
as a single recorded turn instead and the command exits after the reply.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", serverURL, err)
			}
			defer conn.Close()
			go func() {
				<-ctx.Done()
				_ = conn.Close()
			}()

			out := cmd.OutOrStdout()
			if audioPath != "" {
				audio, err := os.ReadFile(audioPath)
				if err != nil {
					return fmt.Errorf("reading %s: %w", audioPath, err)
				}
				return sendTurn(conn, server.ClientMessage{AudioData: base64.StdEncoding.EncodeToString(audio)}, out, showDebug)
			}
			if !plain && isTerminal(cmd.InOrStdin()) && isTerminal(out) {
				return runChatTUI(ctx, conn, showDebug)
			}
			return chatLoop(ctx, conn, cmd.InOrStdin(), out, showDebug)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", serverURLDefault(), "Websocket URL of the server")
	cmd.Flags().StringVar(&audioPath, "audio", "", "Send this recording (webm/wav) as one turn")
	cmd.Flags().BoolVar(&showDebug, "debug", false, "Print the debug payload of each reply")
	cmd.Flags().BoolVar(&plain, "plain", false, "Line mode even on a terminal")
	return cmd
}

func serverURLDefault() string {
	if u := os.Getenv("KINO_SERVER"); u != "" {
		return u
	}
	return "ws://localhost:8000/ws"
}

// chatLoop sends each non-empty input line as a text turn until EOF.
func chatLoop(ctx context.Context, conn *websocket.Conn, in io.Reader, out io.Writer, showDebug bool) error {
	st := newStyles(out)
	fmt.Fprintln(out, st.Muted.Render("Connected. Type a message, Ctrl-D to quit."))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, st.Label.Render("você> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := sendTurn(conn, server.ClientMessage{Texto: line}, out, showDebug); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// sendTurn writes one client frame and prints server frames until the turn
// ends with a reply or a return to idle.
func sendTurn(conn *websocket.Conn, msg server.ClientMessage, out io.Writer, showDebug bool) error {
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("sending turn: %w", err)
	}

	st := newStyles(out)
	for {
		frame, err := readFrame(conn)
		if err != nil {
			return err
		}
		text, done := formatFrame(st, frame, showDebug)
		if text != "" {
			fmt.Fprintln(out, text)
		}
		if done {
			return nil
		}
	}
}

func readFrame(conn *websocket.Conn) (server.ServerMessage, error) {
	_ = conn.SetReadDeadline(time.Now().Add(turnReadTimeout))
	var frame server.ServerMessage
	if err := conn.ReadJSON(&frame); err != nil {
		return frame, fmt.Errorf("reading server frame: %w", err)
	}
	return frame, nil
}

// formatFrame renders one server frame. done reports whether the frame ends
// the turn.
func formatFrame(st styles, frame server.ServerMessage, showDebug bool) (text string, done bool) {
	switch frame.Tipo {
	case server.TipoEstado:
		if frame.Valor == pipeline.EmitIdle {
			return st.Warn.Render("(sem resposta)"), true
		}
		return st.Muted.Render("[" + frame.Valor + "]"), false

	case server.TipoTranscricao:
		return st.Muted.Render("ouvido:") + " " + frame.Texto, false

	case server.TipoResposta:
		var b strings.Builder
		b.WriteString(st.Title.Render("kino>") + " " + frame.Texto)
		if frame.AudioURL != "" {
			b.WriteString("\n" + st.Muted.Render("audio: "+frame.AudioURL))
		}
		if showDebug && frame.Debug != nil {
			b.WriteString("\n" + renderDebug(st, frame.Debug))
		}
		return b.String(), true
	}
	return "", false
}

func renderDebug(st styles, d *pipeline.DebugInfo) string {
	title := "-"
	if d.SelectedTitle != nil {
		title = *d.SelectedTitle
	}
	filters, err := json.Marshal(d.ExtractedFilters)
	if err != nil {
		filters = []byte("?")
	}
	body := fmt.Sprintf("intent: %s\nfilters: %s\ncandidates: %d\nselected: %s\nscore: %.2f",
		d.Intent, filters, d.CandidateCount, title, d.Score)
	return st.Box.Render(body)
}
