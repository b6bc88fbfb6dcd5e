// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger records per sub-project batch outcomes in BadgerDB.
//
// The ledger is informational. Artifact existence decides whether a
// sub-project is done; the ledger keeps counts, timings and failure reasons
// across runs for inspection with "callscan status".
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces ledger records. The version segment changes when the
// record encoding changes incompatibly.
const keyPrefix = "callscan/ledger/v1/"

// ErrNotFound is returned by Get when no record exists for a project.
var ErrNotFound = errors.New("ledger record not found")

// Status is the outcome of one sub-project.
type Status string

const (
	// StatusCompleted means an artifact was written in this run.
	StatusCompleted Status = "completed"

	// StatusSkipped means the artifact already existed.
	StatusSkipped Status = "skipped"

	// StatusFailed means analysis or writing failed; no artifact exists.
	StatusFailed Status = "failed"
)

// Record is the latest known outcome for one sub-project.
type Record struct {
	// Project is the sub-project marker path.
	Project string `json:"project"`

	// Artifact is the artifact key, e.g. "repo.json".
	Artifact string `json:"artifact"`

	// Status is the outcome.
	Status Status `json:"status"`

	// Files, Functions and Calls summarize the artifact contents.
	Files     int `json:"files"`
	Functions int `json:"functions"`
	Calls     int `json:"calls"`

	// DurationMs is the processing time in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// RunID identifies the batch run that produced the record.
	RunID string `json:"run_id"`

	// WorkerID is the worker that processed the project.
	WorkerID int `json:"worker_id"`

	// RecordedAtMilli is when the record was stored (Unix milliseconds UTC).
	RecordedAtMilli int64 `json:"recorded_at_milli"`

	// Error is the failure message for StatusFailed.
	Error string `json:"error,omitempty"`
}

// Ledger stores Records keyed by project.
//
// Description:
//
//	A BadgerDB directory may only be opened by one process, so only the
//	orchestrator writes the ledger; workers report outcomes as events.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type Ledger struct {
	db     *badger.DB
	logger *slog.Logger
	owned  bool
}

// Open opens (creating if needed) the ledger stored in dir.
//
// Inputs:
//   - dir: BadgerDB directory.
//   - logger: Logger for diagnostics. Nil uses slog.Default().
//
// Outputs:
//   - *Ledger: The ledger. Callers must Close it.
//   - error: Non-nil if the database cannot be opened (for example when
//     another process holds its lock).
func Open(dir string, logger *slog.Logger) (*Ledger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening ledger at %s: %w", dir, err)
	}
	l, err := New(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	l.owned = true
	return l, nil
}

// OpenReadOnly opens an existing ledger for inspection. It fails if dir
// does not hold a ledger.
func OpenReadOnly(dir string, logger *slog.Logger) (*Ledger, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithReadOnly(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening ledger at %s read-only: %w", dir, err)
	}
	l, err := New(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	l.owned = true
	return l, nil
}

// New wraps an already opened database. The database is not closed by Close.
func New(db *badger.DB, logger *slog.Logger) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, logger: logger}, nil
}

// Put stores a record, replacing the previous record for the project.
//
// A StatusSkipped record never replaces an existing record, so the ledger
// keeps the counts from the run that actually produced the artifact.
func (l *Ledger) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ledger put canceled: %w", err)
	}
	if rec.Project == "" {
		return fmt.Errorf("ledger record must name a project")
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding ledger record: %w", err)
	}

	key := []byte(keyPrefix + rec.Project)
	err = l.db.Update(func(txn *badger.Txn) error {
		if rec.Status == StatusSkipped {
			_, err := txn.Get(key)
			if err == nil {
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("storing ledger record for %s: %w", rec.Project, err)
	}
	return nil
}

// Get returns the record for a project, or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, project string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ledger get canceled: %w", err)
	}
	var rec Record
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + project))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, project)
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger record for %s: %w", project, err)
	}
	return &rec, nil
}

// List returns every record, ordered by project path.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - status: Only records with this status are returned. Empty means all.
func (l *Ledger) List(ctx context.Context, status Status) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ledger list canceled: %w", err)
	}

	records := make([]Record, 0)
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.Valid(); it.Next() {
			item := it.Item()
			var rec Record
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				l.logger.Warn("skipping corrupt ledger record",
					slog.String("key", string(item.Key())),
					slog.Any("error", err))
				continue
			}
			if status != "" && rec.Status != status {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Project < records[j].Project })
	return records, nil
}

// Close closes the database if the ledger opened it.
func (l *Ledger) Close() error {
	if l.owned {
		return l.db.Close()
	}
	return nil
}
