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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const analysisTracerName = "callscan.analysis"

var (
	// analysisDuration measures whole-project analysis time.
	analysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "callscan",
			Subsystem: "analysis",
			Name:      "project_duration_seconds",
			Help:      "Duration of project analysis in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	// filesAnalyzedTotal counts analyzed files.
	//
	// Labels:
	//   - status: "success" or "error"
	filesAnalyzedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callscan",
			Subsystem: "analysis",
			Name:      "files_total",
			Help:      "Total number of typed modules analyzed.",
		},
		[]string{"status"},
	)

	// declarationsTotal counts exported declarations by outcome.
	//
	// Labels:
	//   - outcome: "extracted", "skipped_unresolved_type", "skipped_malformed", "skipped_other"
	declarationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callscan",
			Subsystem: "analysis",
			Name:      "declarations_total",
			Help:      "Total exported declarations by outcome.",
		},
		[]string{"outcome"},
	)

	// callsFoundTotal counts bare identifier calls found in exported declarations.
	callsFoundTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "callscan",
			Subsystem: "analysis",
			Name:      "calls_total",
			Help:      "Total bare identifier calls found.",
		},
	)
)

func tracer() trace.Tracer {
	return otel.Tracer(analysisTracerName)
}
