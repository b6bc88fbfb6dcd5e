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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callscan/services/callscan/batch"
)

// newWorkerCommand builds the hidden worker entry point. The orchestrator
// starts it with the assignment as a JSON array on stdin; events go to
// stdout as JSON lines and logs go to stderr.
func (a *app) newWorkerCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:    "worker --out <location> --worker-id <n>",
		Short:  "Process an assigned chunk of sub-projects (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.worker = true
			return a.setup(cmd, args)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runWorker(cmd.Context(), out)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "artifact location (directory or gs://bucket/prefix)")
	cmd.Flags().IntVar(&a.workerID, "worker-id", 0, "worker identifier for logs and events")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) runWorker(ctx context.Context, out string) error {
	paths, err := batch.DecodeAssignment(a.stdin)
	if err != nil {
		return withExitCode(batch.ExitBadAssignment, err)
	}

	logger := a.logger.With(slog.Int("worker_id", a.workerID))
	if err := batch.ApplyLimits(a.limits(), logger); err != nil {
		return withExitCode(batch.ExitWorkerError, err)
	}

	_, store, err := a.openStore(ctx, out, false)
	if err != nil {
		return withExitCode(batch.ExitWorkerError, fmt.Errorf("opening artifact store: %w", err))
	}
	defer store.Close()

	runner, err := batch.NewWorkerRunner(store,
		batch.WithWorkerID(a.workerID),
		batch.WithAnalysisConfig(a.cfg.Analysis),
		batch.WithProjectOptions(a.projectOptions()...),
		batch.WithWorkerLogger(logger),
		batch.WithEventSink(batch.JSONLinesSink(a.stdout)),
	)
	if err != nil {
		return withExitCode(batch.ExitWorkerError, err)
	}
	if _, err := runner.Run(ctx, paths); err != nil {
		return withExitCode(batch.ExitWorkerError, err)
	}
	return nil
}
