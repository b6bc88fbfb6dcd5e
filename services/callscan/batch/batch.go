// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch distributes call graph extraction over many sub-projects.
//
// An Orchestrator discovers sub-projects under a dataset root, shuffles and
// partitions them into disjoint chunks, and hands each chunk to a worker. A
// WorkerRunner processes its chunk sequentially, writing one artifact per
// sub-project and skipping sub-projects whose artifact already exists.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
)

var (
	// ErrNoWorkers is returned when the worker count is not positive.
	ErrNoWorkers = errors.New("worker count must be positive")

	// ErrInvalidAssignment is returned when a worker's input is not a JSON
	// array of strings.
	ErrInvalidAssignment = errors.New("invalid worker assignment")
)

// DefaultMarker identifies sub-project directories.
const DefaultMarker = "tsconfig.json"

// Discover returns the marker paths of sub-projects under root.
//
// Description:
//
//	Only immediate subdirectories are considered. A subdirectory qualifies
//	when it contains a file named marker. Paths are absolute and returned
//	in directory enumeration order.
//
// Inputs:
//   - ctx: Context for cancellation, checked per entry.
//   - root: Dataset root directory.
//   - marker: Marker file name, e.g. "tsconfig.json".
//
// Outputs:
//   - []string: Marker paths. Never nil.
//   - error: Non-nil if root cannot be read.
func Discover(ctx context.Context, root, marker string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving dataset root: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("reading dataset root: %w", err)
	}

	markers := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("discovery canceled: %w", err)
		}
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(abs, entry.Name(), marker)
		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				discoverySkipsTotal.Inc()
			}
			continue
		}
		if info.IsDir() {
			continue
		}
		markers = append(markers, path)
	}
	return markers, nil
}

// Shuffle reorders paths in place with a Fisher-Yates shuffle.
//
// A nil rng uses the unseeded global source. Tests pass a seeded
// rand.New(rand.NewPCG(...)) for reproducible orders.
func Shuffle(paths []string, rng *rand.Rand) {
	swap := func(i, j int) { paths[i], paths[j] = paths[j], paths[i] }
	if rng == nil {
		rand.Shuffle(len(paths), swap)
		return
	}
	rng.Shuffle(len(paths), swap)
}

// Partition splits paths into contiguous chunks of ceil(len/workers).
//
// Description:
//
//	Every path lands in exactly one chunk and order is preserved. The last
//	chunk may be smaller, and fewer than workers chunks are returned when
//	there are not enough paths to fill them. No paths yields no chunks.
//
// Outputs:
//   - [][]string: The chunks. Never nil.
//   - error: ErrNoWorkers if workers < 1.
func Partition(paths []string, workers int) ([][]string, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%w: %d", ErrNoWorkers, workers)
	}
	chunks := make([][]string, 0, workers)
	if len(paths) == 0 {
		return chunks, nil
	}
	size := (len(paths) + workers - 1) / workers
	for start := 0; start < len(paths); start += size {
		end := min(start+size, len(paths))
		chunk := make([]string, end-start)
		copy(chunk, paths[start:end])
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// ArtifactKey derives the artifact key from a marker path: the name of the
// directory containing the marker, plus ".json".
func ArtifactKey(markerPath string) string {
	return filepath.Base(filepath.Dir(markerPath)) + ".json"
}
