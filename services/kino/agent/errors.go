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
	"errors"
)

// Sentinel errors returned (wrapped) by the turn stages. Match with errors.Is.
var (
	// ErrExtractionFailed means the filter extractor exhausted its attempts
	// without producing a valid filter.
	ErrExtractionFailed = errors.New("filter extraction failed")

	// ErrServiceUnavailable means an external collaborator (reasoning or
	// speech) failed, timed out, or is behind an open circuit breaker.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrEmptyTranscript means transcription produced no text.
	ErrEmptyTranscript = errors.New("empty transcript")

	// ErrCatalogUnavailable means the catalog could not be loaded.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

// ErrorKind is the label-safe classification of a turn error.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindExtractionFailed   ErrorKind = "extraction_failed"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindEmptyTranscript    ErrorKind = "empty_transcript"
	KindCatalogUnavailable ErrorKind = "catalog_unavailable"
	KindCanceled           ErrorKind = "canceled"
	KindUnknown            ErrorKind = "unknown"
)

// ClassifyError maps an error onto the turn error taxonomy.
//
// Description:
//
//	Sentinels are checked first. A deadline is a service failure. A
//	canceled context means the channel went away and is reported on its own
//	so it is not counted as a service outage.
//
// Thread Safety: Safe for concurrent use.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrExtractionFailed):
		return KindExtractionFailed
	case errors.Is(err, ErrEmptyTranscript):
		return KindEmptyTranscript
	case errors.Is(err, ErrCatalogUnavailable):
		return KindCatalogUnavailable
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, context.DeadlineExceeded):
		return KindServiceUnavailable
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnknown
	}
}
