// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/kino/services/kino/datatypes"
	"github.com/AleutianAI/kino/services/llm"
	"github.com/tmc/langchaingo/llms"
)

// =============================================================================
// LLMChatAdapter Tests
// =============================================================================

func TestLLMChatAdapter_NilClient(t *testing.T) {
	adapter := NewLLMChatAdapter(ProviderOpenAI, nil)
	_, err := adapter.Chat(context.Background(), nil, ChatOptions{})
	if err == nil || !strings.Contains(err.Error(), "client is nil") {
		t.Fatalf("expected nil client error, got %v", err)
	}
}

func TestLLMChatAdapter_Ollama_RequestShape(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.1:8b","message":{"role":"assistant","content":"filme"},"done":true}`))
	}))
	defer server.Close()

	adapter := NewLLMChatAdapter(ProviderOllama, llm.NewOllamaClient(server.URL, "llama3.1:8b"))
	out, err := adapter.Chat(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleSystem, Content: "Responda filme ou conversa."},
		{Role: datatypes.RoleUser, Content: "quero ver um filme de ação"},
	}, ChatOptions{Temperature: 0, Format: "json", KeepAlive: "24h", NumCtx: 4096})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "filme" {
		t.Errorf("response = %q, want filme", out)
	}

	if got["format"] != "json" {
		t.Errorf("format = %v, want json", got["format"])
	}
	if got["keep_alive"] != "24h" {
		t.Errorf("keep_alive = %v", got["keep_alive"])
	}
	opts, ok := got["options"].(map[string]any)
	if !ok {
		t.Fatalf("options missing: %v", got)
	}
	if temp, ok := opts["temperature"]; !ok || temp.(float64) != 0 {
		t.Errorf("temperature 0 must be sent explicitly, got %v", opts["temperature"])
	}
	if opts["num_ctx"].(float64) != 4096 {
		t.Errorf("num_ctx = %v", opts["num_ctx"])
	}
}

func TestLLMChatAdapter_NegativeTemperatureOmitted(t *testing.T) {
	params := generationParams(ChatOptions{Temperature: -1})
	if params.Temperature != nil {
		t.Errorf("negative temperature should be omitted, got %v", *params.Temperature)
	}
	if params.MaxTokens != nil || params.NumCtx != nil {
		t.Error("zero limits should be omitted")
	}

	params = generationParams(ChatOptions{Temperature: 0.7, MaxTokens: 200, Model: "other"})
	if params.Temperature == nil || *params.Temperature != float32(0.7) {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 200 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
	if params.ModelOverride != "other" {
		t.Errorf("model override = %q", params.ModelOverride)
	}
}

func TestLLMChatAdapter_ErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	adapter := NewLLMChatAdapter(ProviderOllama, llm.NewOllamaClient(server.URL, "m"))
	_, err := adapter.Chat(context.Background(), []datatypes.Message{{Role: "user", Content: "oi"}}, ChatOptions{Temperature: -1})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := classifyChatError(err); got != "server" {
		t.Errorf("classifyChatError = %q, want server", got)
	}
}

func TestLLMChatAdapter_ConcurrentSafety(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"ok"},"done":true}`))
	}))
	defer server.Close()

	adapter := NewLLMChatAdapter(ProviderOllama, llm.NewOllamaClient(server.URL, "m"))
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := adapter.Chat(context.Background(), []datatypes.Message{{Role: "user", Content: "oi"}}, ChatOptions{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent call failed: %v", err)
	}
}

// =============================================================================
// LangChainChatAdapter Tests
// =============================================================================

type fakeLangChainModel struct {
	gotMessages []llms.MessageContent
	gotOpts     llms.CallOptions
	reply       string
	err         error
	noChoices   bool
}

func (f *fakeLangChainModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.gotMessages = messages
	for _, opt := range options {
		opt(&f.gotOpts)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.noChoices {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLangChainModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainChatAdapter_MapsRolesAndOptions(t *testing.T) {
	model := &fakeLangChainModel{reply: `{"genero":"ação"}`}
	adapter := NewLangChainChatAdapter(model, "llama3.1:8b")

	out, err := adapter.Chat(context.Background(), []datatypes.Message{
		{Role: datatypes.RoleSystem, Content: "sys"},
		{Role: datatypes.RoleUser, Content: "quero ação"},
		{Role: datatypes.RoleAssistant, Content: "not json"},
		{Role: "tool", Content: "odd"},
	}, ChatOptions{Temperature: 0.2, MaxTokens: 128, Format: "json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"genero":"ação"}` {
		t.Errorf("out = %q", out)
	}

	wantRoles := []llms.ChatMessageType{
		llms.ChatMessageTypeSystem,
		llms.ChatMessageTypeHuman,
		llms.ChatMessageTypeAI,
		llms.ChatMessageTypeHuman,
	}
	if len(model.gotMessages) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d", len(model.gotMessages), len(wantRoles))
	}
	for i, want := range wantRoles {
		if model.gotMessages[i].Role != want {
			t.Errorf("message %d role = %q, want %q", i, model.gotMessages[i].Role, want)
		}
	}
	if !model.gotOpts.JSONMode {
		t.Error("Format json should enable JSON mode")
	}
	if model.gotOpts.Temperature != 0.2 || model.gotOpts.MaxTokens != 128 {
		t.Errorf("opts = %+v", model.gotOpts)
	}
}

func TestLangChainChatAdapter_Errors(t *testing.T) {
	_, err := NewLangChainChatAdapter(nil, "").Chat(context.Background(), nil, ChatOptions{})
	if err == nil {
		t.Error("expected nil client error")
	}

	boom := errors.New("connection refused")
	_, err = NewLangChainChatAdapter(&fakeLangChainModel{err: boom}, "m").Chat(context.Background(), nil, ChatOptions{})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped model error, got %v", err)
	}

	_, err = NewLangChainChatAdapter(&fakeLangChainModel{noChoices: true}, "m").Chat(context.Background(), nil, ChatOptions{})
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Errorf("expected no choices error, got %v", err)
	}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestOllamaLifecycleAdapter_WarmModel(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"done":true}`))
	}))
	defer server.Close()

	mgr := NewOllamaLifecycleAdapter(llm.NewOllamaClient(server.URL, "llama3.1:8b"))
	if err := mgr.WarmModel(context.Background(), "llama3.1:8b", WarmupOptions{KeepAlive: "24h"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/api/generate" {
		t.Errorf("path = %q, want /api/generate", gotPath)
	}
}

func TestCloudLifecycleAdapter(t *testing.T) {
	mgr := NewCloudLifecycleAdapter(ProviderOpenAI)
	if mgr.IsLocal() {
		t.Error("cloud adapter should not be local")
	}
	if err := mgr.WarmModel(context.Background(), "gpt-4o-mini", WarmupOptions{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClassifyChatError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("openai client is nil"), "nil_client"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("anthropic: API returned status 401: bad"), "auth"},
		{errors.New("openai: API returned status 429: slow down"), "rate_limit"},
		{errors.New("gemini: API returned status 503: busy"), "server"},
		{errors.New("something else"), "unknown"},
	}
	for _, tt := range tests {
		if got := classifyChatError(tt.err); got != tt.want {
			t.Errorf("classifyChatError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
