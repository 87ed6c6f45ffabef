// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package interactions

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CSVHeader is the first row of the interaction log.
var CSVHeader = []string{"Timestamp", "Input Usuario", "Intencao", "Dados Tecnicos", "Output Sistema"}

const csvTimeLayout = "2006-01-02 15:04:05"

// CSVRecorder appends interactions to a CSV file, creating the file and
// its header on first use.
//
// Thread Safety: Safe for concurrent use.
type CSVRecorder struct {
	path string
	mu   sync.Mutex
}

// NewCSVRecorder creates a recorder writing to path. Nothing is touched
// until the first Record.
func NewCSVRecorder(path string) *CSVRecorder {
	return &CSVRecorder{path: path}
}

// Path returns the log file path.
func (r *CSVRecorder) Path() string { return r.path }

// Record implements Recorder.
func (r *CSVRecorder) Record(ctx context.Context, in Interaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening interaction log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat interaction log: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(CSVHeader); err != nil {
			return fmt.Errorf("writing log header: %w", err)
		}
	}
	row := []string{
		in.Timestamp.Local().Format(csvTimeLayout),
		in.Utterance,
		intentLabel(in.Intent),
		in.Technical,
		in.Reply,
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("writing log row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing interaction log: %w", err)
	}
	return nil
}
