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
	"fmt"
	"os"
	"strings"

	"github.com/AleutianAI/kino/services/kino/server"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
)

type (
	frameMsg server.ServerMessage
	errMsg   struct{ err error }
)

// chatModel is the full screen chat. One turn is in flight at a time; input
// is ignored until the server ends the current turn.
type chatModel struct {
	conn      *websocket.Conn
	showDebug bool
	st        styles

	input   textinput.Model
	view    viewport.Model
	spin    spinner.Model
	lines   []string
	waiting bool
	err     error
}

func newChatModel(conn *websocket.Conn, showDebug bool) chatModel {
	in := textinput.New()
	in.Placeholder = "Peça um filme ou converse..."
	in.Prompt = "você> "
	in.CharLimit = 500
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return chatModel{
		conn:      conn,
		showDebug: showDebug,
		st:        newStyles(os.Stdout),
		input:     in,
		view:      viewport.New(80, 20),
		spin:      sp,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForFrame())
}

func (m chatModel) waitForFrame() tea.Cmd {
	conn := m.conn
	return func() tea.Msg {
		var frame server.ServerMessage
		if err := conn.ReadJSON(&frame); err != nil {
			return errMsg{err}
		}
		return frameMsg(frame)
	}
}

func (m chatModel) send(text string) tea.Cmd {
	conn := m.conn
	return func() tea.Msg {
		if err := conn.WriteJSON(server.ClientMessage{Texto: text}); err != nil {
			return errMsg{fmt.Errorf("sending turn: %w", err)}
		}
		return nil
	}
}

func (m *chatModel) appendLine(s string) {
	m.lines = append(m.lines, s)
	m.view.SetContent(strings.Join(m.lines, "\n"))
	m.view.GotoBottom()
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-3, 1)
		m.input.Width = max(msg.Width-len(m.input.Prompt)-2, 10)
		m.view.SetContent(strings.Join(m.lines, "\n"))
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.waiting {
				return m, nil
			}
			m.input.SetValue("")
			m.appendLine(m.st.Label.Render("você>") + " " + text)
			m.waiting = true
			return m, tea.Batch(m.send(text), m.spin.Tick)
		}

	case frameMsg:
		text, done := formatFrame(m.st, server.ServerMessage(msg), m.showDebug)
		if text != "" {
			m.appendLine(text)
		}
		if done {
			m.waiting = false
		}
		return m, m.waitForFrame()

	case errMsg:
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m chatModel) View() string {
	status := m.st.Muted.Render("enter envia · esc sai")
	if m.waiting {
		status = m.spin.View() + " " + m.st.Muted.Render("pensando...")
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.view.View(), status, m.input.View())
}

func runChatTUI(ctx context.Context, conn *websocket.Conn, showDebug bool) error {
	p := tea.NewProgram(newChatModel(conn, showDebug), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("chat UI: %w", err)
	}
	if m, ok := final.(chatModel); ok && m.err != nil && ctx.Err() == nil {
		if websocket.IsCloseError(m.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil
		}
		return m.err
	}
	return nil
}
