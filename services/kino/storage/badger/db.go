// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps a BadgerDB instance with context-aware transaction
// helpers and value-log garbage collection.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config configures OpenDB.
type Config struct {
	// Path is the on-disk directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps all data in memory. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCInterval is how often value-log GC runs. Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC. Default: 0.5
	GCDiscardRatio float64

	// ReadOnly opens an existing on-disk database for inspection. GC and
	// L0 compaction on close are disabled.
	ReadOnly bool
}

// DefaultConfig returns the on-disk defaults. Path must still be set.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a config for an ephemeral in-memory database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB is an open BadgerDB.
//
// # Thread Safety
//
// DB is safe for concurrent use. Close must be called once.
type DB struct {
	db     *dgbadger.DB
	logger *slog.Logger

	stopGC    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// OpenDB opens the database and starts background GC if configured.
func OpenDB(cfg Config) (*DB, error) {
	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger path must not be empty")
		}
		opts = dgbadger.DefaultOptions(cfg.Path).
			WithSyncWrites(cfg.SyncWrites).
			WithCompactL0OnClose(!cfg.ReadOnly).
			WithReadOnly(cfg.ReadOnly)
	}
	opts = opts.WithLogger(nil)

	bdb, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	d := &DB{db: bdb, logger: slog.Default()}
	if cfg.GCInterval > 0 && !cfg.InMemory && !cfg.ReadOnly {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		d.stopGC = make(chan struct{})
		d.gcDone = make(chan struct{})
		go d.runGC(cfg.GCInterval, ratio)
	}
	return d, nil
}

// Badger exposes the underlying database for iteration-heavy callers.
func (d *DB) Badger() *dgbadger.DB { return d.db }

// WithTxn runs fn in a read-write transaction and commits it.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// Close stops GC and closes the database. Safe to call more than once.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		if d.stopGC != nil {
			close(d.stopGC)
			<-d.gcDone
		}
		d.closeErr = d.db.Close()
	})
	return d.closeErr
}

func (d *DB) runGC(interval time.Duration, ratio float64) {
	defer close(d.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			for {
				err := d.db.RunValueLogGC(ratio)
				if err == nil {
					continue
				}
				if !errors.Is(err, dgbadger.ErrNoRewrite) {
					d.logger.Debug("Badger value log GC stopped", slog.String("error", err.Error()))
				}
				break
			}
		}
	}
}
