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

import "fmt"

// Intent is the routed purpose of an utterance.
//
// The zero value is IntentChat, which is also the safe default whenever
// classification fails.
type Intent int

const (
	// IntentChat is casual conversation.
	IntentChat Intent = iota

	// IntentMovie is a request for a movie recommendation.
	IntentMovie
)

// String returns "chat" or "movie".
func (i Intent) String() string {
	switch i {
	case IntentMovie:
		return "movie"
	default:
		return "chat"
	}
}

// MarshalText implements encoding.TextMarshaler for JSON debug payloads.
func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Intent) UnmarshalText(text []byte) error {
	switch string(text) {
	case "movie":
		*i = IntentMovie
	case "chat":
		*i = IntentChat
	default:
		return fmt.Errorf("unknown intent %q", string(text))
	}
	return nil
}
