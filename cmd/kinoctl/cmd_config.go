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
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/AleutianAI/kino/services/kino/agent/providers"
	"github.com/AleutianAI/kino/services/kino/config"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// setupAnswers are the choices collected by config init.
type setupAnswers struct {
	Provider      string
	Model         string
	CatalogPath   string
	SpeechEnabled bool
	WhisperURL    string
	TTSURL        string
	BadgerPath    string
}

func defaultAnswers() setupAnswers {
	cfg, err := config.Defaults()
	if err != nil {
		return setupAnswers{Provider: providers.ProviderOllama}
	}
	return setupAnswers{
		Provider:      cfg.LLM.Roles.Main.Provider,
		Model:         cfg.LLM.Roles.Main.Model,
		CatalogPath:   cfg.Catalog.Path,
		SpeechEnabled: cfg.Speech.Enabled,
		WhisperURL:    cfg.Speech.Whisper.URL,
		TTSURL:        cfg.Speech.TTS.URL,
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and check server configuration",
	}

	var (
		outPath    string
		accessible bool
		force      bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively write a kino.yaml override",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(outPath); err == nil && !force {
				return fmt.Errorf("%s exists, pass --force to overwrite", outPath)
			}
			answers := defaultAnswers()
			if err := setupForm(&answers).WithAccessible(accessible).Run(); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				return err
			}
			return writeOverride(cmd.OutOrStdout(), outPath, answers)
		},
	}
	initCmd.Flags().StringVarP(&outPath, "out", "o", "kino.yaml", "File to write")
	initCmd.Flags().BoolVar(&accessible, "accessible", false, "Plain prompts for screen readers")
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	checkCmd := &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a config file merged over the defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ResolvePath("")
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := config.Load(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), newStyles(cmd.OutOrStdout()).Good.Render("config OK"))
			return nil
		},
	}

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}

func setupForm(a *setupAnswers) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Reasoning provider").
				Options(huh.NewOptions(providers.ValidProviders...)...).
				Value(&a.Provider),
			huh.NewInput().
				Title("Model").
				Description("Used for all three roles; override per role with KINO_<ROLE>_MODEL.").
				Value(&a.Model).
				Validate(notBlank("model")),
			huh.NewInput().
				Title("Catalog CSV").
				Description("Local path or gs://bucket/object").
				Value(&a.CatalogPath).
				Validate(notBlank("catalog path")),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable speech?").
				Value(&a.SpeechEnabled),
			huh.NewInput().
				Title("Whisper URL").
				Value(&a.WhisperURL).
				Validate(optionalURL),
			huh.NewInput().
				Title("TTS URL").
				Value(&a.TTSURL).
				Validate(optionalURL),
			huh.NewInput().
				Title("Interaction store directory").
				Description("Empty disables the Badger store.").
				Value(&a.BadgerPath),
		),
	)
}

func notBlank(field string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s must not be empty", field)
		}
		return nil
	}
}

func optionalURL(s string) error {
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", s)
	}
	return nil
}

// renderOverride builds the YAML override for a.
func renderOverride(a setupAnswers) ([]byte, error) {
	role := map[string]string{"provider": a.Provider, "model": a.Model}
	doc := map[string]any{
		"catalog": map[string]any{"path": a.CatalogPath},
		"llm": map[string]any{
			"roles": map[string]any{"main": role, "intent": role, "filter": role},
		},
		"speech": map[string]any{
			"enabled": a.SpeechEnabled,
			"whisper": map[string]any{"url": a.WhisperURL},
			"tts":     map[string]any{"url": a.TTSURL},
		},
	}
	if a.BadgerPath != "" {
		doc["interactions"] = map[string]any{"badger_path": a.BadgerPath}
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("rendering config: %w", err)
	}
	return append([]byte("# Generated by kinoctl config init.\n"), out...), nil
}

// writeOverride writes the override and validates it merged over the
// defaults. An invalid result is removed.
func writeOverride(w io.Writer, path string, a setupAnswers) error {
	data, err := renderOverride(a)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if _, err := config.Load(path); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("generated config is invalid: %w", err)
	}
	fmt.Fprintf(w, "Wrote %s. Start the server with: kino -config %s\n", path, path)
	return nil
}
