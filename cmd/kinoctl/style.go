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
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	accentColor  = lipgloss.Color("#8BC34A")
	mutedColor   = lipgloss.Color("#9E9E9E")
	warningColor = lipgloss.Color("#FFC107")
	errorColor   = lipgloss.Color("#E53935")
)

// styles renders CLI output. Colors are dropped when the writer is not a
// terminal or --no-color is set.
type styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Good    lipgloss.Style
	Warn    lipgloss.Style
	Bad     lipgloss.Style
	Box     lipgloss.Style
	colored bool
}

func newStyles(w io.Writer) styles {
	colored := !noColor && isTerminal(w)
	s := styles{
		Title: lipgloss.NewStyle().Bold(true),
		Label: lipgloss.NewStyle().Bold(true),
		Muted: lipgloss.NewStyle(),
		Good:  lipgloss.NewStyle(),
		Warn:  lipgloss.NewStyle(),
		Bad:   lipgloss.NewStyle(),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1),
		colored: colored,
	}
	if colored {
		s.Title = s.Title.Foreground(accentColor)
		s.Muted = s.Muted.Foreground(mutedColor)
		s.Good = s.Good.Foreground(accentColor)
		s.Warn = s.Warn.Foreground(warningColor)
		s.Bad = s.Bad.Foreground(errorColor)
		s.Box = s.Box.BorderForeground(mutedColor)
	}
	return s
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
