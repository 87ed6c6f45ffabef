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
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestNewQueryFilter_Normalizes(t *testing.T) {
	kws := []string{" love ", "", "  ", "war"}
	f := NewQueryFilter("  ", kws, nil, intPtr(1999))

	assert.Nil(t, f.Genre, "blank genre must be absent")
	assert.Equal(t, []string{"love", "war"}, f.Keywords)
	require.NotNil(t, f.YearMax)
	assert.Equal(t, 1999, *f.YearMax)

	// Caller mutation must not leak into the filter.
	kws[0] = "changed"
	assert.Equal(t, "love", f.Keywords[0])
}

func TestQueryFilter_IsEmpty(t *testing.T) {
	assert.True(t, QueryFilter{}.IsEmpty())
	assert.True(t, NewQueryFilter("", []string{" "}, nil, nil).IsEmpty())
	assert.False(t, NewQueryFilter("ação", nil, nil, nil).IsEmpty())
	assert.False(t, NewQueryFilter("", nil, intPtr(1990), nil).IsEmpty())
}

func TestQueryFilter_Validate(t *testing.T) {
	tooMany := make([]string, 17)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("kw%d", i)
	}

	tests := []struct {
		name    string
		filter  QueryFilter
		wantErr bool
	}{
		{"empty", QueryFilter{}, false},
		{"full", NewQueryFilter("comédia", []string{"love"}, intPtr(1990), intPtr(2000)), false},
		{"year too old", NewQueryFilter("", nil, intPtr(1200), nil), true},
		{"year too far", NewQueryFilter("", nil, nil, intPtr(3000)), true},
		{"inverted bounds", NewQueryFilter("", nil, intPtr(2010), intPtr(2000)), true},
		{"too many keywords", NewQueryFilter("", tooMany, nil, nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQueryFilter_String(t *testing.T) {
	f := NewQueryFilter("terror", []string{"ghost"}, nil, nil)
	assert.JSONEq(t, `{"genre":"terror","keywords":["ghost"]}`, f.String())
	assert.Equal(t, "{}", QueryFilter{}.String())
}

func TestIntent_JSON(t *testing.T) {
	raw, err := json.Marshal(map[string]Intent{"intent": IntentMovie})
	require.NoError(t, err)
	assert.JSONEq(t, `{"intent":"movie"}`, string(raw))

	var back map[string]Intent
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, IntentMovie, back["intent"])

	var zero Intent
	assert.Equal(t, IntentChat, zero)
	assert.Error(t, zero.UnmarshalText([]byte("filme")))
}

func TestTurn_Message(t *testing.T) {
	assert.Equal(t, "user", UserTurn("oi").Message().Role)
	assert.Equal(t, "assistant", AssistantTurn("olá").Message().Role)

	note := RecommendationNote("Avatar")
	assert.Equal(t, RoleSystemNote, note.Role)
	assert.Equal(t, "NOTA: Recomendou 'Avatar'.", note.Text)
	assert.Equal(t, "system", note.Message().Role)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{fmt.Errorf("extract: %w", ErrExtractionFailed), KindExtractionFailed},
		{fmt.Errorf("stt: %w", ErrEmptyTranscript), KindEmptyTranscript},
		{fmt.Errorf("load: %w", ErrCatalogUnavailable), KindCatalogUnavailable},
		{fmt.Errorf("chat: %w", ErrServiceUnavailable), KindServiceUnavailable},
		{fmt.Errorf("chat: %w", context.DeadlineExceeded), KindServiceUnavailable},
		{context.Canceled, KindCanceled},
		{fmt.Errorf("boom"), KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.err), "error %v", tt.err)
	}
}
