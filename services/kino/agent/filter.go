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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Year bounds accepted from the extractor. Anything outside is a hallucination.
const (
	MinFilterYear = 1870
	MaxFilterYear = 2100
)

// validate is shared; validator caches struct metadata and is safe for
// concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// QueryFilter is the structured search criteria extracted from an utterance.
//
// Description:
//
//	Genre stays in the user's language and is mapped to a catalog genre by
//	the scorer's alias table. Keywords are already in the catalog's
//	language. Year bounds are carried for display and logging but are not
//	applied by the scorer.
//
//	Build values with NewQueryFilter, which normalizes and copies its inputs.
//	Callers must treat the slices as read-only.
type QueryFilter struct {
	Genre    *string  `json:"genre,omitempty" validate:"omitempty,max=64"`
	Keywords []string `json:"keywords,omitempty" validate:"max=16,dive,max=64"`
	YearMin  *int     `json:"yearMin,omitempty" validate:"omitempty,gte=1870,lte=2100"`
	YearMax  *int     `json:"yearMax,omitempty" validate:"omitempty,gte=1870,lte=2100"`
}

// NewQueryFilter builds a normalized QueryFilter.
//
// Description:
//
//	Trims whitespace, turns a blank genre into an absent one and drops blank
//	keywords. A blank keyword would match every catalog item as a substring.
//
// Inputs:
//   - genre: Genre in the user's language. Empty means absent.
//   - keywords: Search terms. Copied; the caller keeps ownership of the slice.
//   - yearMin, yearMax: Optional bounds. Copied.
//
// Outputs:
//   - QueryFilter: The normalized filter.
func NewQueryFilter(genre string, keywords []string, yearMin, yearMax *int) QueryFilter {
	var f QueryFilter
	if g := strings.TrimSpace(genre); g != "" {
		f.Genre = &g
	}
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			f.Keywords = append(f.Keywords, kw)
		}
	}
	if yearMin != nil {
		v := *yearMin
		f.YearMin = &v
	}
	if yearMax != nil {
		v := *yearMax
		f.YearMax = &v
	}
	return f
}

// GenreValue returns the genre or "" when absent.
func (f QueryFilter) GenreValue() string {
	if f.Genre == nil {
		return ""
	}
	return *f.Genre
}

// IsEmpty reports whether no criterion at all was extracted.
func (f QueryFilter) IsEmpty() bool {
	return f.Genre == nil && len(f.Keywords) == 0 && f.YearMin == nil && f.YearMax == nil
}

// Validate checks the filter against the accepted shape.
//
// Outputs:
//   - error: Non-nil when a field is out of range or the year bounds are inverted.
func (f QueryFilter) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("invalid query filter: %w", err)
	}
	if f.YearMin != nil && f.YearMax != nil && *f.YearMin > *f.YearMax {
		return fmt.Errorf("invalid query filter: yearMin %d after yearMax %d", *f.YearMin, *f.YearMax)
	}
	return nil
}

// String renders the filter as compact JSON, used in interaction logs.
func (f QueryFilter) String() string {
	raw, err := json.Marshal(f)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
