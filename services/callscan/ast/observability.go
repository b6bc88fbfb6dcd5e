// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// astTracerName is the OTel tracer name for the code model.
const astTracerName = "callscan.ast"

var (
	// parseDuration measures tree-sitter parse time per file.
	//
	// Labels:
	//   - kind: content kind ("ts", "tsx", "declarations", ...)
	//   - status: "success" or "error"
	parseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "callscan",
			Subsystem: "ast",
			Name:      "parse_duration_seconds",
			Help:      "Duration of source file parsing in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"kind", "status"},
	)

	// filesParsedTotal counts parse attempts.
	filesParsedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callscan",
			Subsystem: "ast",
			Name:      "files_parsed_total",
			Help:      "Total number of source files parsed.",
		},
		[]string{"kind", "status"},
	)
)

func tracer() trace.Tracer {
	return otel.Tracer(astTracerName)
}

// recordParse records metrics for one parse attempt.
func recordParse(_ context.Context, kind ContentKind, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	parseDuration.WithLabelValues(kind.String(), status).Observe(duration.Seconds())
	filesParsedTotal.WithLabelValues(kind.String(), status).Inc()
}
