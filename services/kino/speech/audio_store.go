// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package speech

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// File name prefixes of audio written by Kino. Cleanup removes only these.
const (
	SpeechPrefix    = "fala_"
	RecordingPrefix = "rec_"
)

// AudioStore writes generated audio into the directory served at URLPrefix.
//
// # Thread Safety
//
// AudioStore is safe for concurrent use; every file gets a fresh UUID name.
type AudioStore struct {
	dir       string
	urlPrefix string
	logger    *slog.Logger
}

// NewAudioStore creates the directory if needed.
//
// # Inputs
//
//   - dir: Directory on disk, e.g. "static".
//   - urlPrefix: Path the directory is served under, e.g. "/static".
func NewAudioStore(dir, urlPrefix string) (*AudioStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("audio store directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audio directory %s: %w", dir, err)
	}
	if urlPrefix == "" {
		urlPrefix = "/static"
	}
	return &AudioStore{
		dir:       dir,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
		logger:    slog.Default(),
	}, nil
}

// Dir returns the directory on disk.
func (s *AudioStore) Dir() string { return s.dir }

// URLPrefix returns the path the directory is served under.
func (s *AudioStore) URLPrefix() string { return s.urlPrefix }

// Save writes data as <prefix><uuid>.<ext> and returns the file name.
//
// The file is written under a temporary name and renamed so a client never
// fetches a partially written file.
func (s *AudioStore) Save(prefix, ext string, data []byte) (string, error) {
	name := prefix + uuid.NewString() + "." + strings.TrimPrefix(ext, ".")
	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing audio file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalizing audio file: %w", err)
	}
	return name, nil
}

// URL returns the client-facing path of a saved file.
func (s *AudioStore) URL(name string) string {
	return path.Join(s.urlPrefix, name)
}

// Cleanup removes every fala_ and rec_ file from the directory.
//
// # Outputs
//
//   - int: Files removed.
//   - error: Non-nil only if the directory could not be listed. Individual
//     removal failures are logged and skipped.
func (s *AudioStore) Cleanup() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("listing audio directory: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, SpeechPrefix) && !strings.HasPrefix(name, RecordingPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			s.logger.Warn("Failed to remove audio file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed, nil
}
