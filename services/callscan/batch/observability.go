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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const batchTracerName = "callscan.batch"

var (
	// discoveredTotal counts discovered sub-projects.
	discoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "callscan",
			Subsystem: "batch",
			Name:      "discovered_total",
			Help:      "Total sub-projects discovered.",
		},
	)

	// discoverySkipsTotal counts subdirectories whose marker could not be
	// checked for reasons other than absence.
	discoverySkipsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "callscan",
			Subsystem: "batch",
			Name:      "discovery_errors_total",
			Help:      "Total subdirectories skipped because the marker could not be checked.",
		},
	)

	// projectsTotal counts sub-projects by outcome.
	//
	// Labels:
	//   - status: "completed", "skipped" or "failed"
	projectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callscan",
			Subsystem: "batch",
			Name:      "projects_total",
			Help:      "Total sub-projects processed by outcome.",
		},
		[]string{"status"},
	)

	// projectDuration measures per sub-project processing time.
	projectDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "callscan",
			Subsystem: "batch",
			Name:      "project_duration_seconds",
			Help:      "Duration of sub-project processing in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"status"},
	)

	// functionsTotal counts exported functions written to artifacts.
	functionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "callscan",
			Subsystem: "batch",
			Name:      "functions_total",
			Help:      "Total exported functions written to artifacts.",
		},
	)

	// callsTotal counts function calls written to artifacts.
	callsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "callscan",
			Subsystem: "batch",
			Name:      "calls_total",
			Help:      "Total function calls written to artifacts.",
		},
	)

	// workersTotal counts finished workers.
	//
	// Labels:
	//   - outcome: "succeeded" or "failed"
	workersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callscan",
			Subsystem: "batch",
			Name:      "workers_total",
			Help:      "Total workers finished by outcome.",
		},
		[]string{"outcome"},
	)
)

func tracer() trace.Tracer {
	return otel.Tracer(batchTracerName)
}

// recordProjectEvent updates project metrics from a worker event.
func recordProjectEvent(ev Event) {
	status := string(ev.Type)
	projectsTotal.WithLabelValues(status).Inc()
	projectDuration.WithLabelValues(status).Observe(float64(ev.DurationMs) / 1000)
	if ev.Type == EventCompleted {
		functionsTotal.Add(float64(ev.Functions))
		callsTotal.Add(float64(ev.Calls))
	}
}
