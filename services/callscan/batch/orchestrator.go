// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/callscan/services/callscan/ledger"
)

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithWorkers sets the worker count. Values below 1 keep the default,
// runtime.NumCPU().
func WithWorkers(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithMarker sets the marker file name used for discovery.
func WithMarker(marker string) OrchestratorOption {
	return func(o *Orchestrator) {
		if marker != "" {
			o.marker = marker
		}
	}
}

// WithRand sets the shuffle source. Nil means the unseeded global source.
func WithRand(rng *rand.Rand) OrchestratorOption {
	return func(o *Orchestrator) {
		o.rng = rng
	}
}

// WithLedger records every worker event in l.
func WithLedger(l *ledger.Ledger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.ledger = l
	}
}

// WithRunID tags logs, spans and ledger records with a run identifier.
func WithRunID(id string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.runID = id
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WorkerReport is the outcome of one worker.
type WorkerReport struct {
	ID       int    `json:"id"`
	Assigned int    `json:"assigned"`
	ExitCode int    `json:"exitCode"`
	Error    string `json:"error,omitempty"`
	WorkerSummary
}

// Report summarizes one batch run.
type Report struct {
	RunID      string         `json:"runId"`
	Discovered int            `json:"discovered"`
	Workers    []WorkerReport `json:"workers"`
	Completed  int            `json:"completed"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Duration   time.Duration  `json:"duration"`
}

// FailedWorkers counts workers that did not exit cleanly.
func (r *Report) FailedWorkers() int {
	n := 0
	for _, w := range r.Workers {
		if w.Error != "" {
			n++
		}
	}
	return n
}

// Orchestrator fans sub-projects out to workers and joins them.
//
// Description:
//
//	Run discovers sub-projects, shuffles them, partitions them into one
//	disjoint chunk per worker, spawns every worker through the Spawner and
//	waits for all of them. Worker failures are logged and reported but do
//	not cancel other workers, and do not fail the run.
//
// Thread Safety: Run must not be called concurrently on one Orchestrator.
type Orchestrator struct {
	spawner Spawner
	workers int
	marker  string
	rng     *rand.Rand
	ledger  *ledger.Ledger
	runID   string
	logger  *slog.Logger
}

// NewOrchestrator creates an orchestrator that starts workers with spawner.
func NewOrchestrator(spawner Spawner, opts ...OrchestratorOption) (*Orchestrator, error) {
	if spawner == nil {
		return nil, fmt.Errorf("orchestrator: spawner must not be nil")
	}
	o := &Orchestrator{
		spawner: spawner,
		workers: runtime.NumCPU(),
		marker:  DefaultMarker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run processes every sub-project under datasetDir.
//
// Inputs:
//   - ctx: Context for tracing and discovery. Workers are started with a
//     context that ignores cancellation, so they always run to completion.
//   - datasetDir: Dataset root.
//
// Outputs:
//   - *Report: Per-worker and total outcomes.
//   - error: Non-nil only if discovery or partitioning fails. Worker
//     failures are reported in the Report.
func (o *Orchestrator) Run(ctx context.Context, datasetDir string) (*Report, error) {
	ctx, span := tracer().Start(ctx, "batch.Orchestrator.Run",
		trace.WithAttributes(
			attribute.String("dataset", datasetDir),
			attribute.String("run_id", o.runID),
			attribute.Int("workers", o.workers),
		),
	)
	defer span.End()

	start := time.Now()
	logger := o.logger.With(slog.String("run_id", o.runID))

	markers, err := Discover(ctx, datasetDir, o.marker)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	Shuffle(markers, o.rng)

	chunks, err := Partition(markers, o.workers)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.Info("sub-projects discovered",
		slog.String("dataset", datasetDir),
		slog.Int("count", len(markers)),
		slog.Int("workers", len(chunks)))
	discoveredTotal.Add(float64(len(markers)))

	report := &Report{
		RunID:      o.runID,
		Discovered: len(markers),
		Workers:    make([]WorkerReport, len(chunks)),
	}
	// Workers are never canceled and their errors are not returned, so the
	// group is used only as a join barrier.
	workerCtx := context.WithoutCancel(ctx)

	var mu sync.Mutex
	sink := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		o.recordEvent(workerCtx, logger, report, ev)
	}

	var g errgroup.Group
	for i, chunk := range chunks {
		id, assignment := i, chunk
		report.Workers[id] = WorkerReport{ID: id, Assigned: len(assignment)}
		g.Go(func() error {
			code, err := o.spawner.Spawn(workerCtx, WorkerSpec{ID: id, Assignment: assignment}, sink)

			mu.Lock()
			defer mu.Unlock()
			wr := &report.Workers[id]
			wr.ExitCode = code
			if err != nil {
				wr.Error = err.Error()
				workersTotal.WithLabelValues("failed").Inc()
				logger.Error("worker failed",
					slog.Int("worker_id", id),
					slog.Int("exit_code", code),
					slog.String("error", err.Error()))
				return nil
			}
			workersTotal.WithLabelValues("succeeded").Inc()
			logger.Info("worker exited",
				slog.Int("worker_id", id),
				slog.Int("exit_code", code))
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("discovered", report.Discovered),
		attribute.Int("completed", report.Completed),
		attribute.Int("skipped", report.Skipped),
		attribute.Int("failed", report.Failed),
		attribute.Int("failed_workers", report.FailedWorkers()),
	)
	logger.Info("batch finished",
		slog.Int("discovered", report.Discovered),
		slog.Int("completed", report.Completed),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("failed_workers", report.FailedWorkers()),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// recordEvent folds one event into the report, metrics and ledger.
// Callers hold the report mutex.
func (o *Orchestrator) recordEvent(ctx context.Context, logger *slog.Logger, report *Report, ev Event) {
	var wr *WorkerReport
	if ev.WorkerID >= 0 && ev.WorkerID < len(report.Workers) {
		wr = &report.Workers[ev.WorkerID]
	}
	switch ev.Type {
	case EventCompleted:
		report.Completed++
		if wr != nil {
			wr.Completed++
		}
	case EventSkipped:
		report.Skipped++
		if wr != nil {
			wr.Skipped++
		}
	case EventFailed:
		report.Failed++
		if wr != nil {
			wr.Failed++
		}
	}
	recordProjectEvent(ev)

	if o.ledger == nil {
		return
	}
	rec := ledger.Record{
		Project:         ev.Project,
		Artifact:        ev.Artifact,
		Status:          ledger.Status(ev.Type),
		Files:           ev.Files,
		Functions:       ev.Functions,
		Calls:           ev.Calls,
		DurationMs:      ev.DurationMs,
		RunID:           o.runID,
		WorkerID:        ev.WorkerID,
		RecordedAtMilli: time.Now().UTC().UnixMilli(),
		Error:           ev.Error,
	}
	if err := o.ledger.Put(ctx, rec); err != nil {
		logger.Warn("ledger write failed",
			slog.String("project", ev.Project),
			slog.String("error", err.Error()))
	}
}
