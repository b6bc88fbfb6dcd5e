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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/callscan/services/callscan/storage"
)

// Exit statuses shared by worker processes and in-process workers.
const (
	ExitOK             = 0
	ExitWorkerError    = 1
	ExitBadAssignment  = 2
	ExitUnknownFailure = -1
)

// maxRelayLine bounds one relayed stdout or stderr line from a worker.
const maxRelayLine = 4 * mebibyte

// WorkerSpec identifies one worker and its chunk.
type WorkerSpec struct {
	ID         int
	Assignment []string
}

// Spawner starts a worker and waits for it to finish.
//
// Spawn returns the worker's exit status. A non-nil error means the worker
// could not be started or did not exit cleanly; it never means that a
// sub-project failed, which is reported through events instead.
type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec, sink EventSink) (exitCode int, err error)
}

// =============================================================================
// In-Process Workers
// =============================================================================

// InProcessSpawner runs each worker as a goroutine in this process.
//
// Description:
//
//	Useful for tests and small datasets. Panics are contained per worker,
//	but resource ceilings cannot be enforced per goroutine: configured
//	Limits are reported and otherwise ignored.
//
// Thread Safety: Safe for concurrent Spawn calls when Store is.
type InProcessSpawner struct {
	Store   storage.ArtifactStore
	Options []WorkerOption
	Limits  Limits
	Logger  *slog.Logger

	warnOnce sync.Once
}

// Spawn runs one worker to completion.
func (s *InProcessSpawner) Spawn(ctx context.Context, spec WorkerSpec, sink EventSink) (code int, err error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !s.Limits.IsZero() {
		s.warnOnce.Do(func() {
			logger.Warn("resource limits are not enforced for in-process workers",
				slog.Int64("memory_mb", s.Limits.MemoryMB),
				slog.Int64("stack_mb", s.Limits.StackMB),
				slog.Int64("address_space_mb", s.Limits.AddressSpaceMB))
		})
	}

	defer func() {
		if r := recover(); r != nil {
			code = ExitWorkerError
			err = fmt.Errorf("worker %d panicked: %v", spec.ID, r)
			logger.Error("worker panicked",
				slog.Int("worker_id", spec.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	opts := append([]WorkerOption{}, s.Options...)
	opts = append(opts,
		WithWorkerID(spec.ID),
		WithEventSink(sink),
		WithWorkerLogger(logger),
	)
	runner, err := NewWorkerRunner(s.Store, opts...)
	if err != nil {
		return ExitWorkerError, err
	}
	if _, err := runner.Run(ctx, spec.Assignment); err != nil {
		return ExitWorkerError, err
	}
	return ExitOK, nil
}

// =============================================================================
// Worker Processes
// =============================================================================

// ProcessSpawner runs each worker as a child process.
//
// Description:
//
//	The child is started as Executable with Args plus "--worker-id=<id>".
//	The assignment is written to its stdin as a JSON array. The child
//	reports events as JSON lines on stdout and logs on stderr; stderr lines
//	are relayed into Logger tagged with the worker id. The child is not
//	tied to ctx and always runs to completion.
//
// Thread Safety: Safe for concurrent Spawn calls.
type ProcessSpawner struct {
	// Executable defaults to os.Executable().
	Executable string

	// Args follow the executable, e.g. {"worker", "--out", dir}.
	Args []string

	// Env is the child environment. Nil inherits this process's.
	Env []string

	Logger *slog.Logger
}

// Spawn starts the child and waits for it to exit.
func (s *ProcessSpawner) Spawn(ctx context.Context, spec WorkerSpec, sink EventSink) (int, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.Int("worker_id", spec.ID))

	_, span := tracer().Start(ctx, "batch.ProcessSpawner.Spawn",
		trace.WithAttributes(
			attribute.Int("worker_id", spec.ID),
			attribute.Int("assigned", len(spec.Assignment)),
		),
	)
	defer span.End()

	exe := s.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return ExitUnknownFailure, fmt.Errorf("locating executable: %w", err)
		}
	}

	input, err := json.Marshal(spec.Assignment)
	if err != nil {
		return ExitUnknownFailure, fmt.Errorf("encoding assignment: %w", err)
	}

	args := append(append([]string{}, s.Args...), "--worker-id="+strconv.Itoa(spec.ID))
	cmd := exec.Command(exe, args...)
	cmd.Env = s.Env
	cmd.Stdin = bytes.NewReader(input)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ExitUnknownFailure, fmt.Errorf("worker %d stdout: %w", spec.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return ExitUnknownFailure, fmt.Errorf("worker %d stderr: %w", spec.ID, err)
	}

	if err := cmd.Start(); err != nil {
		return ExitUnknownFailure, fmt.Errorf("starting worker %d: %w", spec.ID, err)
	}
	span.SetAttributes(attribute.Int("pid", cmd.Process.Pid))
	logger.Info("worker spawned",
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("assigned", len(spec.Assignment)))

	// Both pipes must be drained before Wait.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, func(line []byte) {
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil || ev.Type == "" {
				logger.Debug("ignoring worker stdout", slog.String("line", string(line)))
				return
			}
			ev.WorkerID = spec.ID
			sink(ev)
		}, logger)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, func(line []byte) {
			relayLogLine(ctx, logger, line)
		}, logger)
	}()
	wg.Wait()

	err = cmd.Wait()
	code := cmd.ProcessState.ExitCode()
	span.SetAttributes(attribute.Int("exit_code", code))
	if err != nil {
		span.RecordError(err)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return code, fmt.Errorf("worker %d exited with status %d: %w", spec.ID, code, err)
		}
		return code, fmt.Errorf("waiting for worker %d: %w", spec.ID, err)
	}
	return code, nil
}

// scanLines calls fn for each line of r and drains r on scanner errors.
func scanLines(r io.Reader, fn func(line []byte), logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRelayLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("worker output truncated", slog.String("error", err.Error()))
		_, _ = io.Copy(io.Discard, r)
	}
}

// relayedKeys are attributes the relaying logger already carries.
var relayedKeys = map[string]bool{
	slog.TimeKey:    true,
	slog.LevelKey:   true,
	slog.MessageKey: true,
	"worker_id":     true,
	"run_id":        true,
}

// relayLogLine re-emits one child log line. JSON records keep their level,
// message and attributes; anything else is logged verbatim at info.
func relayLogLine(ctx context.Context, logger *slog.Logger, line []byte) {
	var record map[string]any
	if err := json.Unmarshal(line, &record); err != nil {
		logger.Info("worker output", slog.String("line", string(line)))
		return
	}
	msg, ok := record[slog.MessageKey].(string)
	if !ok {
		logger.Info("worker output", slog.String("line", string(line)))
		return
	}

	level := slog.LevelInfo
	if name, ok := record[slog.LevelKey].(string); ok {
		_ = level.UnmarshalText([]byte(name))
	}

	keys := make([]string, 0, len(record))
	for k := range record {
		if !relayedKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, record[k]))
	}
	logger.LogAttrs(ctx, level, msg, attrs...)
}
