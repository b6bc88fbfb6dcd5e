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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/callscan/services/callscan/analysis"
	"github.com/AleutianAI/callscan/services/callscan/ast"
	"github.com/AleutianAI/callscan/services/callscan/storage"
)

// DecodeAssignment reads a worker assignment: a JSON array of marker paths.
//
// Any other shape, including null, a non-array value, non-string elements or
// trailing data, is rejected with ErrInvalidAssignment.
func DecodeAssignment(r io.Reader) ([]string, error) {
	dec := json.NewDecoder(r)

	var raw []json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAssignment, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: expected an array of strings", ErrInvalidAssignment)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after array", ErrInvalidAssignment)
	}

	paths := make([]string, 0, len(raw))
	for i, item := range raw {
		var path string
		if err := json.Unmarshal(item, &path); err != nil || string(item) == "null" {
			return nil, fmt.Errorf("%w: element %d is not a string", ErrInvalidAssignment, i)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WorkerOption configures a WorkerRunner.
type WorkerOption func(*WorkerRunner)

// WithWorkerID sets the id reported in logs and events.
func WithWorkerID(id int) WorkerOption {
	return func(w *WorkerRunner) {
		w.id = id
	}
}

// WithAnalysisConfig sets the signature rendering configuration.
func WithAnalysisConfig(cfg analysis.AnalysisConfig) WorkerOption {
	return func(w *WorkerRunner) {
		w.analysisConfig = cfg
	}
}

// WithProjectOptions sets options passed to ast.LoadProject.
func WithProjectOptions(opts ...ast.ProjectOption) WorkerOption {
	return func(w *WorkerRunner) {
		w.projectOpts = opts
	}
}

// WithWorkerLogger sets the worker logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *WorkerRunner) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithEventSink sets where per sub-project events are delivered.
func WithEventSink(sink EventSink) WorkerOption {
	return func(w *WorkerRunner) {
		if sink != nil {
			w.sink = sink
		}
	}
}

// WorkerSummary counts outcomes of one WorkerRunner.Run.
type WorkerSummary struct {
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// WorkerRunner processes an assigned chunk of sub-projects.
//
// Description:
//
//	Sub-projects are processed strictly in order. For each one the runner
//	derives the artifact key, skips it when the store already holds the
//	artifact, and otherwise loads, analyzes, serializes and writes it. A
//	failure or panic in one sub-project is logged and reported as an
//	EventFailed; the runner then continues with the next one.
//
// Thread Safety:
//
//	A WorkerRunner must not run concurrently with itself. Separate runners
//	may share a store as long as their assignments are disjoint.
type WorkerRunner struct {
	id             int
	store          storage.ArtifactStore
	analysisConfig analysis.AnalysisConfig
	projectOpts    []ast.ProjectOption
	logger         *slog.Logger
	sink           EventSink
}

// NewWorkerRunner creates a runner writing artifacts to store.
func NewWorkerRunner(store storage.ArtifactStore, opts ...WorkerOption) (*WorkerRunner, error) {
	if store == nil {
		return nil, fmt.Errorf("worker runner: store must not be nil")
	}
	w := &WorkerRunner{
		store:          store,
		analysisConfig: analysis.DefaultConfig(),
		logger:         slog.Default(),
		sink:           discardEvents,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.Int("worker_id", w.id))
	return w, nil
}

// Run processes every assigned marker path in order.
//
// Inputs:
//   - ctx: Context for tracing. Cancellation stops the loop between
//     sub-projects; the sub-project in progress finishes its current step.
//   - paths: Marker paths from DecodeAssignment or Partition.
//
// Outputs:
//   - WorkerSummary: Outcome counts.
//   - error: Non-nil only when ctx is done before the chunk completes.
func (w *WorkerRunner) Run(ctx context.Context, paths []string) (WorkerSummary, error) {
	ctx, span := tracer().Start(ctx, "batch.WorkerRunner.Run",
		trace.WithAttributes(
			attribute.Int("worker_id", w.id),
			attribute.Int("assigned", len(paths)),
		),
	)
	defer span.End()

	w.logger.Info("worker started",
		slog.Int("assigned", len(paths)),
		slog.String("store", w.store.Location()))

	var summary WorkerSummary
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "canceled")
			return summary, fmt.Errorf("worker %d canceled: %w", w.id, err)
		}

		ev := w.processProject(ctx, path)
		switch ev.Type {
		case EventCompleted:
			summary.Completed++
		case EventSkipped:
			summary.Skipped++
		case EventFailed:
			summary.Failed++
		}
		w.sink(ev)
	}

	span.SetAttributes(
		attribute.Int("completed", summary.Completed),
		attribute.Int("skipped", summary.Skipped),
		attribute.Int("failed", summary.Failed),
	)
	w.logger.Info("worker finished",
		slog.Int("completed", summary.Completed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed))
	return summary, nil
}

// processProject handles one sub-project and never panics.
func (w *WorkerRunner) processProject(ctx context.Context, path string) (ev Event) {
	start := time.Now()
	ev = Event{
		WorkerID: w.id,
		Project:  path,
		Artifact: ArtifactKey(path),
	}

	ctx, span := tracer().Start(ctx, "batch.WorkerRunner.processProject",
		trace.WithAttributes(
			attribute.String("project", path),
			attribute.String("artifact", ev.Artifact),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			ev.Type = EventFailed
			ev.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			w.logger.Error("sub-project panicked",
				slog.String("project", path),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
		ev.DurationMs = time.Since(start).Milliseconds()
	}()

	exists, err := w.store.Exists(ctx, ev.Artifact)
	if err != nil {
		return w.fail(span, ev, fmt.Errorf("checking artifact: %w", err))
	}
	if exists {
		ev.Type = EventSkipped
		w.logger.Debug("artifact exists, skipping",
			slog.String("project", path),
			slog.String("artifact", ev.Artifact))
		return ev
	}

	details, err := w.analyze(ctx, path)
	if err != nil {
		return w.fail(span, ev, err)
	}

	data, err := analysis.EncodeArtifact(details)
	if err != nil {
		return w.fail(span, ev, fmt.Errorf("encoding artifact: %w", err))
	}

	if err := w.store.Write(ctx, ev.Artifact, data); err != nil {
		if errors.Is(err, storage.ErrArtifactExists) {
			ev.Type = EventSkipped
			w.logger.Warn("artifact appeared during analysis, keeping existing",
				slog.String("project", path),
				slog.String("artifact", ev.Artifact))
			return ev
		}
		return w.fail(span, ev, fmt.Errorf("writing artifact: %w", err))
	}

	ev.Type = EventCompleted
	ev.Files, ev.Functions, ev.Calls = analysis.Totals(details)
	span.SetAttributes(
		attribute.Int("files", ev.Files),
		attribute.Int("functions", ev.Functions),
		attribute.Int("calls", ev.Calls),
	)
	w.logger.Info("sub-project analyzed",
		slog.String("project", path),
		slog.String("artifact", ev.Artifact),
		slog.Int("files", ev.Files),
		slog.Int("functions", ev.Functions),
		slog.Int("calls", ev.Calls),
		slog.Duration("duration", time.Since(start)))
	return ev
}

// analyze loads one sub-project and extracts its call graph.
func (w *WorkerRunner) analyze(ctx context.Context, path string) ([]analysis.FileDetails, error) {
	opts := append([]ast.ProjectOption{ast.WithLogger(w.logger)}, w.projectOpts...)
	project, err := ast.LoadProject(ctx, path, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	defer project.Close()

	analyzer := analysis.NewAnalyzer(
		analysis.WithConfig(w.analysisConfig),
		analysis.WithLogger(w.logger),
	)
	details, err := analyzer.AnalyzeProject(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("analyzing project: %w", err)
	}
	return details, nil
}

func (w *WorkerRunner) fail(span trace.Span, ev Event, err error) Event {
	ev.Type = EventFailed
	ev.Error = err.Error()
	span.RecordError(err)
	span.SetStatus(codes.Error, "failed")
	w.logger.Error("sub-project failed",
		slog.String("project", ev.Project),
		slog.String("artifact", ev.Artifact),
		slog.String("error", err.Error()))
	return ev
}
