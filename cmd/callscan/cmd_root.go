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
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/option"

	"github.com/AleutianAI/callscan/services/callscan/ast"
	"github.com/AleutianAI/callscan/services/callscan/config"
	"github.com/AleutianAI/callscan/services/callscan/storage"
	"github.com/AleutianAI/callscan/services/callscan/telemetry"
)

// dotEnvFile is read from the working directory when present.
const dotEnvFile = ".env"

// globalOptions holds persistent flag values. Only flags the user set are
// applied over the loaded configuration.
type globalOptions struct {
	configPath     string
	logLevel       string
	logFormat      string
	inProcess      bool
	seed           uint64
	marker         string
	types          bool
	ledgerDir      string
	metricsFile    string
	traceFile      string
	otlpEndpoint   string
	memoryMB       int64
	stackMB        int64
	addressSpaceMB int64
	maxFileSize    int64
	runID          string
}

// app holds process-wide state shared by all commands.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	opts   globalOptions
	cfg    *config.Config
	logger *slog.Logger
	runID  string

	// worker is set by the worker command, which neither writes the
	// metrics file nor the trace file.
	worker   bool
	workerID int

	shutdownTracing telemetry.ShutdownFunc
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		logger: slog.New(slog.NewTextHandler(stderr, nil)),
	}
}

// newRootCommand builds the command tree. The root command is the batch
// orchestrator.
func (a *app) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "callscan <dataset-dir> <out-dir> [worker-count]",
		Short: "Extract exported-function call graphs from TypeScript sub-projects",
		Long: `callscan analyzes every immediate subdirectory of <dataset-dir> that contains
a tsconfig.json and writes one JSON artifact per sub-project to <out-dir>.

<out-dir> is a local directory (created if missing) or gs://bucket/prefix.
Sub-projects with an existing artifact are skipped, so rerunning resumes an
interrupted batch.`,
		Args:              batchArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE:              a.runBatch,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.opts.configPath, "config", "", "YAML configuration file")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.opts.logFormat, "log-format", "", "log format: auto, text, json")
	flags.BoolVar(&a.opts.inProcess, "in-process", false, "run workers as goroutines instead of processes")
	flags.Uint64Var(&a.opts.seed, "seed", 0, "shuffle seed (0 for random order)")
	flags.StringVar(&a.opts.marker, "marker", "", "file name identifying a sub-project (default tsconfig.json)")
	flags.BoolVar(&a.opts.types, "types", false, "include type annotations in signatures")
	flags.StringVar(&a.opts.ledgerDir, "ledger", "", "BadgerDB directory recording per sub-project outcomes")
	flags.StringVar(&a.opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	flags.StringVar(&a.opts.traceFile, "trace-file", "", "write OpenTelemetry spans to this file")
	flags.StringVar(&a.opts.otlpEndpoint, "otlp-endpoint", "", "OTLP/gRPC collector host:port")
	flags.Int64Var(&a.opts.memoryMB, "memory-limit-mb", 0, "per-worker soft memory limit in MiB, 0 disables (config default 2048)")
	flags.Int64Var(&a.opts.stackMB, "stack-limit-mb", 0, "per-worker maximum goroutine stack in MiB, 0 disables (config default 2048)")
	flags.Int64Var(&a.opts.addressSpaceMB, "address-space-mb", 0, "per-worker virtual memory ceiling in MiB")
	flags.Int64Var(&a.opts.maxFileSize, "max-file-size", 0, "largest source file to parse, in bytes")
	flags.StringVar(&a.opts.runID, "run-id", "", "run identifier (generated when empty)")
	_ = flags.MarkHidden("run-id")

	root.AddCommand(
		a.newAnalyzeCommand(),
		a.newWorkerCommand(),
		a.newStatusCommand(),
	)
	return root
}

// setup loads configuration, applies flags and installs logging and tracing.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	dotenv, err := config.ReadDotEnv(dotEnvFile)
	if err != nil {
		return err
	}
	cfg, err := config.Load(ctx, a.opts.configPath, config.EnvLookup(dotenv))
	if err != nil {
		return err
	}
	a.applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.runID = a.opts.runID
	if a.runID == "" {
		a.runID = uuid.NewString()
	}

	logger, err := telemetry.NewLogger(a.stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.logger = logger.With(slog.String("run_id", a.runID))
	slog.SetDefault(a.logger)

	tracing := telemetry.TracingOptions{
		TraceFile:    cfg.Telemetry.TraceFile,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Attributes:   []attribute.KeyValue{attribute.String("run_id", a.runID)},
	}
	if a.worker {
		// Workers share the orchestrator's trace file path; only the
		// orchestrator writes it.
		tracing.TraceFile = ""
		tracing.Attributes = append(tracing.Attributes, attribute.Int("worker_id", a.workerID))
	}
	shutdown, err := telemetry.SetupTracing(ctx, tracing)
	if err != nil {
		return err
	}
	a.shutdownTracing = shutdown
	return nil
}

// applyFlags overlays explicitly set persistent flags onto cfg.
func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("log-level") {
		cfg.Log.Level = a.opts.logLevel
	}
	if set("log-format") {
		cfg.Log.Format = a.opts.logFormat
	}
	if set("in-process") {
		cfg.Batch.InProcess = a.opts.inProcess
	}
	if set("seed") {
		cfg.Batch.Seed = a.opts.seed
	}
	if set("marker") {
		cfg.Batch.Marker = a.opts.marker
	}
	if set("types") {
		cfg.Analysis.IncludeTypeAnnotations = a.opts.types
	}
	if set("ledger") {
		cfg.Ledger.Dir = a.opts.ledgerDir
	}
	if set("metrics-file") {
		cfg.Telemetry.MetricsFile = a.opts.metricsFile
	}
	if set("trace-file") {
		cfg.Telemetry.TraceFile = a.opts.traceFile
	}
	if set("otlp-endpoint") {
		cfg.Telemetry.OTLPEndpoint = a.opts.otlpEndpoint
	}
	if set("memory-limit-mb") {
		cfg.Limits.MemoryMB = a.opts.memoryMB
	}
	if set("stack-limit-mb") {
		cfg.Limits.StackMB = a.opts.stackMB
	}
	if set("address-space-mb") {
		cfg.Limits.AddressSpaceMB = a.opts.addressSpaceMB
	}
	if set("max-file-size") {
		cfg.Parser.MaxFileSize = a.opts.maxFileSize
	}
}

// finish flushes spans and writes the metrics file. It is safe to call when
// setup never ran.
func (a *app) finish() error {
	var errs []error
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing traces: %w", err))
		}
	}
	if a.cfg != nil && !a.worker && a.cfg.Telemetry.MetricsFile != "" {
		if err := telemetry.WriteMetrics(a.cfg.Telemetry.MetricsFile); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// projectOptions returns the ast options derived from configuration.
func (a *app) projectOptions() []ast.ProjectOption {
	return []ast.ProjectOption{
		ast.WithMaxFileSize(a.cfg.Parser.MaxFileSize),
		ast.WithLogger(a.logger),
	}
}

// storeOptions configures gs:// and s3:// artifact locations.
func (a *app) storeOptions() []storage.OpenOption {
	s3 := a.cfg.Storage.S3
	opts := []storage.OpenOption{storage.WithS3Config(storage.S3Config{
		Endpoint:  s3.Endpoint,
		Region:    s3.Region,
		AccessKey: s3.AccessKey,
		SecretKey: s3.SecretKey,
		UseSSL:    s3.UseSSL,
	})}
	if a.cfg.Storage.GCSEndpoint != "" {
		opts = append(opts, storage.WithGCSOptions(option.WithEndpoint(a.cfg.Storage.GCSEndpoint)))
	}
	return opts
}
