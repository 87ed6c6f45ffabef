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
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/kino/services/kino/agent"
	"golang.org/x/sync/semaphore"
)

// Queue serializes speech calls behind a weighted semaphore.
//
// Local speech servers usually hold one model on one GPU, so concurrent
// requests only slow each other down. Waiting honors ctx cancellation.
//
// Thread Safety: Queue is safe for concurrent use.
type Queue struct {
	sem         *semaphore.Weighted
	transcriber Transcriber
	synthesizer Synthesizer
}

// NewQueue wraps the collaborators with a semaphore of size maxConcurrent
// (minimum 1). Either collaborator may be nil.
func NewQueue(maxConcurrent int64, transcriber Transcriber, synthesizer Synthesizer) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		sem:         semaphore.NewWeighted(maxConcurrent),
		transcriber: transcriber,
		synthesizer: synthesizer,
	}
}

// Transcribe implements Transcriber.
func (q *Queue) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if q.transcriber == nil {
		return "", fmt.Errorf("transcriber not configured: %w", agent.ErrServiceUnavailable)
	}
	if err := q.acquire(ctx); err != nil {
		return "", err
	}
	defer q.sem.Release(1)
	return q.transcriber.Transcribe(ctx, audio)
}

// Synthesize implements Synthesizer.
func (q *Queue) Synthesize(ctx context.Context, text string) (string, error) {
	if q.synthesizer == nil {
		return "", fmt.Errorf("synthesizer not configured: %w", agent.ErrServiceUnavailable)
	}
	if err := q.acquire(ctx); err != nil {
		return "", err
	}
	defer q.sem.Release(1)
	return q.synthesizer.Synthesize(ctx, text)
}

func (q *Queue) acquire(ctx context.Context) error {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("waiting for speech slot: %w", err)
		}
		return fmt.Errorf("waiting for speech slot: %w: %w", agent.ErrServiceUnavailable, err)
	}
	return nil
}
