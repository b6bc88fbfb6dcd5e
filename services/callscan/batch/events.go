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
	"encoding/json"
	"io"
	"sync"
)

// EventType classifies a per sub-project outcome.
type EventType string

const (
	// EventCompleted reports a newly written artifact.
	EventCompleted EventType = "completed"

	// EventSkipped reports an artifact that already existed.
	EventSkipped EventType = "skipped"

	// EventFailed reports a sub-project that produced no artifact.
	EventFailed EventType = "failed"
)

// Event is emitted by a worker after each sub-project.
//
// In process mode events travel from the worker to the orchestrator as JSON
// lines on the worker's stdout.
type Event struct {
	Type       EventType `json:"type"`
	WorkerID   int       `json:"workerId"`
	Project    string    `json:"project"`
	Artifact   string    `json:"artifact"`
	Files      int       `json:"files,omitempty"`
	Functions  int       `json:"functions,omitempty"`
	Calls      int       `json:"calls,omitempty"`
	DurationMs int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
}

// EventSink receives worker events. Implementations must be safe for
// concurrent use when shared between workers.
type EventSink func(Event)

// discardEvents is used when no sink is configured.
func discardEvents(Event) {}

// JSONLinesSink writes each event as one JSON line to w.
func JSONLinesSink(w io.Writer) EventSink {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(ev)
	}
}
