// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"fmt"

	"github.com/AleutianAI/kino/services/kino/datatypes"
)

// Role identifies who produced a Turn.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystemNote Role = "system_note"
)

// Turn is one entry of a session's conversation history.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserTurn returns a Turn spoken by the user.
func UserTurn(text string) Turn { return Turn{Role: RoleUser, Text: text} }

// AssistantTurn returns a Turn produced by Kino.
func AssistantTurn(text string) Turn { return Turn{Role: RoleAssistant, Text: text} }

// RecommendationNote returns the system note recorded after a title was
// recommended, so later turns can refer back to it.
func RecommendationNote(title string) Turn {
	return Turn{Role: RoleSystemNote, Text: fmt.Sprintf("NOTA: Recomendou '%s'.", title)}
}

// Message converts the turn to a chat message. System notes are sent with
// the system role.
func (t Turn) Message() datatypes.Message {
	switch t.Role {
	case RoleAssistant:
		return datatypes.Message{Role: datatypes.RoleAssistant, Content: t.Text}
	case RoleSystemNote:
		return datatypes.Message{Role: datatypes.RoleSystem, Content: t.Text}
	default:
		return datatypes.Message{Role: datatypes.RoleUser, Content: t.Text}
	}
}
