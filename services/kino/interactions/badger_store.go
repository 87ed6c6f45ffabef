// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package interactions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	badgerstore "github.com/AleutianAI/kino/services/kino/storage/badger"
	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// interactionKeyPrefix versions the storage layout. Keys sort by time:
// prefix + zero-padded unix nanos + "/" + id.
const interactionKeyPrefix = "kino/interaction/v1/"

// DefaultRecentLimit is used when Recent is called with a non-positive limit.
const DefaultRecentLimit = 50

// BadgerStore keeps interactions in BadgerDB so they can be listed by the
// debug endpoint and kinoctl.
//
// # Description
//
// Entries are JSON encoded. When ttl is positive, BadgerDB expires them
// natively; expired entries simply stop appearing in Recent.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerStore struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerStore creates a store over an open DB. The caller owns the DB.
func NewBadgerStore(db *badgerstore.DB, ttl time.Duration) *BadgerStore {
	if db == nil {
		panic("NewBadgerStore: db must not be nil")
	}
	return &BadgerStore{db: db, ttl: ttl, logger: slog.Default()}
}

func interactionKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", interactionKeyPrefix, ts.UnixNano(), id))
}

// Record implements Recorder. A missing ID or timestamp is filled in.
func (s *BadgerStore) Record(ctx context.Context, in Interaction) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("interaction encode: %w", err)
	}
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(interactionKey(in.Timestamp, in.ID), raw)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("interaction save: %w", err)
	}
	return nil
}

// Recent returns up to limit interactions, newest first.
func (s *BadgerStore) Recent(ctx context.Context, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	prefix := []byte(interactionKeyPrefix)
	out := make([]Interaction, 0, limit)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var in Interaction
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &in)
			})
			if err != nil {
				s.logger.Warn("Skipping undecodable interaction",
					slog.String("key", string(it.Item().Key())),
					slog.String("error", err.Error()),
				)
				continue
			}
			out = append(out, in)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("interaction list: %w", err)
	}
	return out, nil
}
