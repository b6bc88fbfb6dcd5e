// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callscan/services/callscan/batch"
	"github.com/AleutianAI/callscan/services/callscan/ledger"
	"github.com/AleutianAI/callscan/services/callscan/storage"
)

// batchArgs validates <dataset-dir> <out-dir> [worker-count].
func batchArgs(_ *cobra.Command, args []string) error {
	switch {
	case len(args) == 0:
		return usageErrorf("missing <dataset-dir>")
	case len(args) == 1:
		return usageErrorf("missing <out-dir>")
	case len(args) > 3:
		return usageErrorf("expected at most 3 arguments, got %d", len(args))
	}
	if len(args) == 3 {
		if n, err := strconv.Atoi(args[2]); err != nil || n < 1 {
			return usageErrorf("worker-count must be a positive integer, got %q", args[2])
		}
	}
	return nil
}

// runBatch is the orchestrator: discover, partition, spawn and join.
func (a *app) runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	datasetDir, outDir := args[0], args[1]

	workers := a.cfg.Batch.Workers
	if len(args) == 3 {
		workers, _ = strconv.Atoi(args[2])
	}
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	if err := checkDir(datasetDir); err != nil {
		return withExitCode(1, fmt.Errorf("dataset directory: %w", err))
	}

	outLocation, store, err := a.openStore(ctx, outDir, true)
	if err != nil {
		return withExitCode(1, fmt.Errorf("output directory: %w", err))
	}
	defer store.Close()

	var led *ledger.Ledger
	if dir := a.cfg.Ledger.Dir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating ledger directory: %w", err)
		}
		if led, err = ledger.Open(dir, a.logger); err != nil {
			return err
		}
		defer led.Close()
	}

	var rng *rand.Rand
	if seed := a.cfg.Batch.Seed; seed != 0 {
		rng = rand.New(rand.NewPCG(seed, seed))
	}

	orch, err := batch.NewOrchestrator(a.newSpawner(store, outLocation),
		batch.WithWorkers(workers),
		batch.WithMarker(a.cfg.Batch.Marker),
		batch.WithRand(rng),
		batch.WithLedger(led),
		batch.WithRunID(a.runID),
		batch.WithOrchestratorLogger(a.logger),
	)
	if err != nil {
		return err
	}

	a.logger.Info("batch starting",
		slog.String("dataset", datasetDir),
		slog.String("out", store.Location()),
		slog.Int("workers", workers),
		slog.Bool("in_process", a.cfg.Batch.InProcess))

	report, err := orch.Run(ctx, datasetDir)
	if err != nil {
		return withExitCode(1, err)
	}

	fmt.Fprintf(a.stdout, "Done: %d sub-projects, %d completed, %d skipped, %d failed, %d of %d workers failed\n",
		report.Discovered, report.Completed, report.Skipped, report.Failed,
		report.FailedWorkers(), len(report.Workers))
	return nil
}

// newSpawner picks in-process or child-process workers.
func (a *app) newSpawner(store storage.ArtifactStore, outLocation string) batch.Spawner {
	if a.cfg.Batch.InProcess {
		return &batch.InProcessSpawner{
			Store: store,
			Options: []batch.WorkerOption{
				batch.WithAnalysisConfig(a.cfg.Analysis),
				batch.WithProjectOptions(a.projectOptions()...),
			},
			Limits: a.limits(),
			Logger: a.logger,
		}
	}
	return &batch.ProcessSpawner{
		Args:   a.workerArgs(outLocation),
		Logger: a.logger,
	}
}

// workerArgs forwards the effective configuration to a worker process.
func (a *app) workerArgs(outLocation string) []string {
	args := []string{
		"worker",
		"--out=" + outLocation,
		"--run-id=" + a.runID,
		"--log-level=" + a.cfg.Log.Level,
		"--log-format=json",
		"--types=" + strconv.FormatBool(a.cfg.Analysis.IncludeTypeAnnotations),
		"--max-file-size=" + strconv.FormatInt(a.cfg.Parser.MaxFileSize, 10),
		"--memory-limit-mb=" + strconv.FormatInt(a.cfg.Limits.MemoryMB, 10),
		"--stack-limit-mb=" + strconv.FormatInt(a.cfg.Limits.StackMB, 10),
		"--address-space-mb=" + strconv.FormatInt(a.cfg.Limits.AddressSpaceMB, 10),
	}
	if a.opts.configPath != "" {
		args = append(args, "--config="+a.opts.configPath)
	}
	if a.cfg.Telemetry.OTLPEndpoint != "" {
		args = append(args, "--otlp-endpoint="+a.cfg.Telemetry.OTLPEndpoint)
	}
	return args
}

func (a *app) limits() batch.Limits {
	return batch.Limits{
		MemoryMB:       a.cfg.Limits.MemoryMB,
		StackMB:        a.cfg.Limits.StackMB,
		AddressSpaceMB: a.cfg.Limits.AddressSpaceMB,
	}
}

// openStore opens the artifact store for location. Local locations are made
// absolute, and created when create is set.
func (a *app) openStore(ctx context.Context, location string, create bool) (string, storage.ArtifactStore, error) {
	if !storage.IsRemote(location) {
		abs, err := filepath.Abs(location)
		if err != nil {
			return "", nil, err
		}
		location = abs
		if create {
			if err := os.MkdirAll(location, 0o755); err != nil {
				return "", nil, err
			}
		}
	}
	store, err := storage.Open(ctx, location, a.storeOptions()...)
	if err != nil {
		return "", nil, err
	}
	return location, store, nil
}

// checkDir verifies that path is a readable directory.
func checkDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
