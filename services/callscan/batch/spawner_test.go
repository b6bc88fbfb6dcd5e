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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "CALLSCAN_TEST_HELPER_WORKER"

// TestHelperWorkerProcess is not a real test. It is the child process
// started by the ProcessSpawner tests.
func TestHelperWorkerProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		t.Skip("helper process")
	}

	paths, err := DecodeAssignment(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitBadAssignment)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	sink := JSONLinesSink(os.Stdout)
	fmt.Fprintln(os.Stdout, "not an event")
	for _, p := range paths {
		logger.Info("processing", slog.String("project", p))
		sink(Event{Type: EventCompleted, Project: p, Artifact: ArtifactKey(p), Functions: 1})
	}
	if mode == "crash" {
		os.Exit(3)
	}
	os.Exit(ExitOK)
}

func helperSpawner(t *testing.T, mode string, logs *bytes.Buffer) *ProcessSpawner {
	t.Helper()
	return &ProcessSpawner{
		Executable: os.Args[0],
		Args:       []string{"-test.run=^TestHelperWorkerProcess$", "--"},
		Env:        append(os.Environ(), helperEnv+"="+mode),
		Logger:     slog.New(slog.NewJSONHandler(logs, nil)),
	}
}

func TestProcessSpawner_RelaysEventsAndLogs(t *testing.T) {
	var logs bytes.Buffer
	spawner := helperSpawner(t, "ok", &logs)
	rec := &eventRecorder{}

	code, err := spawner.Spawn(context.Background(), WorkerSpec{
		ID:         5,
		Assignment: []string{"/d/a/tsconfig.json", "/d/b/tsconfig.json"},
	}, rec.sink)
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)

	require.Len(t, rec.events, 2)
	assert.Equal(t, "a.json", rec.events[0].Artifact)
	assert.Equal(t, 5, rec.events[1].WorkerID)

	var relayed int
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		if record["msg"] == "processing" {
			relayed++
			assert.EqualValues(t, 5, record["worker_id"])
		}
	}
	assert.Equal(t, 2, relayed)
}

func TestProcessSpawner_NonZeroExit(t *testing.T) {
	var logs bytes.Buffer
	spawner := helperSpawner(t, "crash", &logs)
	rec := &eventRecorder{}

	code, err := spawner.Spawn(context.Background(), WorkerSpec{ID: 1, Assignment: []string{"/d/a/tsconfig.json"}}, rec.sink)
	require.Error(t, err)
	assert.Equal(t, 3, code)
	assert.Len(t, rec.events, 1, "events before the crash are still delivered")
}

func TestProcessSpawner_StartFailure(t *testing.T) {
	spawner := &ProcessSpawner{Executable: "/nonexistent/callscan"}
	code, err := spawner.Spawn(context.Background(), WorkerSpec{ID: 0}, discardEvents)
	require.Error(t, err)
	assert.Equal(t, ExitUnknownFailure, code)
}
