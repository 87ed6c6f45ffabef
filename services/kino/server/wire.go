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
	"github.com/AleutianAI/kino/services/kino/pipeline"
)

// Message type tags of server-to-client frames.
const (
	TipoEstado      = "estado"
	TipoTranscricao = "transcricao"
	TipoResposta    = "resposta"
)

// EstadoSpeaking is the client state carried by every reply frame.
const EstadoSpeaking = "speaking"

// ClientMessage is a client-to-server frame. Exactly one field is expected:
// AudioData carries a base64 recording, Texto a typed utterance.
type ClientMessage struct {
	AudioData string `json:"audio_data,omitempty"`
	Texto     string `json:"texto,omitempty"`
}

// StateMessage announces a client-visible state change ("thinking", "idle").
type StateMessage struct {
	Tipo  string `json:"tipo"`
	Valor string `json:"valor"`
}

// TranscriptMessage echoes what was heard.
type TranscriptMessage struct {
	Tipo  string `json:"tipo"`
	Texto string `json:"texto"`
}

// ReplyMessage carries the reply text, its audio and the debug payload.
type ReplyMessage struct {
	Tipo     string             `json:"tipo"`
	Texto    string             `json:"texto"`
	AudioURL string             `json:"audio_url"`
	Estado   string             `json:"estado"`
	Debug    pipeline.DebugInfo `json:"debug"`
}

// NewReplyMessage builds the reply frame for a turn result.
func NewReplyMessage(result pipeline.TurnResult) ReplyMessage {
	return ReplyMessage{
		Tipo:     TipoResposta,
		Texto:    result.Reply,
		AudioURL: result.AudioURL,
		Estado:   EstadoSpeaking,
		Debug:    result.Debug,
	}
}

// ServerMessage is the union of server-to-client frames as decoded by
// clients such as kinoctl.
type ServerMessage struct {
	Tipo     string              `json:"tipo"`
	Valor    string              `json:"valor,omitempty"`
	Texto    string              `json:"texto,omitempty"`
	AudioURL string              `json:"audio_url,omitempty"`
	Estado   string              `json:"estado,omitempty"`
	Debug    *pipeline.DebugInfo `json:"debug,omitempty"`
}
