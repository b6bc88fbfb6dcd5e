// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/callscan/services/callscan/ast"
)

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithConfig sets the analysis configuration.
func WithConfig(cfg AnalysisConfig) AnalyzerOption {
	return func(a *Analyzer) {
		a.config = cfg
	}
}

// WithLogger sets the logger for skip diagnostics.
func WithLogger(logger *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Analyzer extracts exported functions and their calls from a project.
//
// Description:
//
//	Analyzer is stateless apart from its configuration. It walks the
//	project's typed modules, keeps the exported declarations each file owns,
//	and renders one ExportedFunction per call signature.
//
// Thread Safety:
//
//	An Analyzer may be shared, but a Project may only be analyzed by one
//	goroutine at a time.
type Analyzer struct {
	config AnalysisConfig
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer with the default configuration.
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the analyzer's configuration.
func (a *Analyzer) Config() AnalysisConfig {
	return a.config
}

// AnalyzeProject analyzes a loaded project with an optional configuration.
//
// This is the single-shot entry point: the result is returned in memory and
// nothing is persisted.
//
// Example:
//
//	details, err := analysis.AnalyzeProject(ctx, project, analysis.AnalysisConfig{IncludeTypeAnnotations: true})
func AnalyzeProject(ctx context.Context, project *ast.Project, cfg ...AnalysisConfig) ([]FileDetails, error) {
	config := DefaultConfig()
	if len(cfg) > 0 {
		config = cfg[0]
	}
	return NewAnalyzer(WithConfig(config)).AnalyzeProject(ctx, project)
}

// AnalyzeProject produces one FileDetails per typed module of the project.
//
// Description:
//
//	Files are visited in project order and only files of kind ast.KindTS
//	are analyzed. A file that fails to load is dropped with a warning. For
//	each exported name, declarations owned by other files (re-exports) are
//	ignored, and a declaration whose type cannot be resolved is dropped
//	without affecting its siblings.
//
// Inputs:
//   - ctx: Context for cancellation, checked between files.
//   - project: The loaded project. Must not be nil.
//
// Outputs:
//   - []FileDetails: Per-file results in project order. Never nil.
//   - error: Non-nil only when ctx is done or project is nil.
func (a *Analyzer) AnalyzeProject(ctx context.Context, project *ast.Project) ([]FileDetails, error) {
	if project == nil {
		return nil, fmt.Errorf("analyze project: project must not be nil")
	}

	ctx, span := tracer().Start(ctx, "analysis.Analyzer.AnalyzeProject",
		trace.WithAttributes(
			attribute.String("root", project.RootDir()),
			attribute.Bool("include_type_annotations", a.config.IncludeTypeAnnotations),
		),
	)
	defer span.End()

	start := time.Now()
	details := make([]FileDetails, 0)

	for _, file := range project.SourceFiles() {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "canceled")
			return nil, fmt.Errorf("analysis canceled: %w", err)
		}
		if file.Kind() != ast.KindTS {
			continue
		}

		fd, err := a.analyzeFile(ctx, file)
		if err != nil {
			a.logger.Warn("skipping file",
				slog.String("file", file.FilePath()),
				slog.String("error", err.Error()))
			filesAnalyzedTotal.WithLabelValues("error").Inc()
			continue
		}
		filesAnalyzedTotal.WithLabelValues("success").Inc()
		details = append(details, fd)
	}

	files, functions, calls := Totals(details)
	span.SetAttributes(
		attribute.Int("files", files),
		attribute.Int("functions", functions),
		attribute.Int("calls", calls),
	)
	analysisDuration.Observe(time.Since(start).Seconds())
	return details, nil
}

// analyzeFile builds the FileDetails for one file.
func (a *Analyzer) analyzeFile(ctx context.Context, file *ast.SourceFile) (FileDetails, error) {
	ctx, span := tracer().Start(ctx, "analysis.Analyzer.analyzeFile",
		trace.WithAttributes(attribute.String("file", file.FilePath())),
	)
	defer span.End()

	symbols, err := file.ExportedDeclarations(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return FileDetails{}, fmt.Errorf("loading %s: %w", file.FilePath(), err)
	}

	fd := FileDetails{
		FilePath:          file.FilePath(),
		ExportedFunctions: make([]ExportedFunction, 0),
	}
	for _, sym := range symbols {
		for _, decl := range sym.Declarations {
			if decl.SourceFile() != file {
				continue
			}
			fns, err := a.ExtractFunctions(ctx, sym.Name, decl, a.config)
			if err != nil {
				reason := "other"
				switch {
				case errors.Is(err, ast.ErrUnresolvedType):
					reason = "unresolved_type"
				case errors.Is(err, ast.ErrMalformedDeclaration):
					reason = "malformed"
				}
				declarationsTotal.WithLabelValues("skipped_" + reason).Inc()
				a.logger.Debug("skipping declaration",
					slog.String("file", file.FilePath()),
					slog.String("name", sym.Name),
					slog.String("error", err.Error()))
				continue
			}
			if len(fns) == 0 {
				continue
			}
			declarationsTotal.WithLabelValues("extracted").Inc()
			callsFoundTotal.Add(float64(len(fns[0].FunctionCalls)))
			fd.ExportedFunctions = append(fd.ExportedFunctions, fns...)
		}
	}
	return fd, nil
}
