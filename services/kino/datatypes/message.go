// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds wire-neutral types shared by the LLM clients and
// the Kino agent packages.
package datatypes

// Message roles understood by every LLM client.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message sent to a reasoning service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CloneMessages returns a copy of msgs with its own backing array.
//
// Callers that build on a previous message list (self-correcting retries)
// use this so earlier lists are never mutated by a later append.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
