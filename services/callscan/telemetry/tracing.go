// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "callscan"

// TracingOptions selects a span exporter. When both outputs are empty
// tracing stays on the global no-op provider.
type TracingOptions struct {
	// TraceFile receives spans as JSON lines. Takes precedence over OTLP.
	TraceFile string

	// OTLPEndpoint is a host:port of an OTLP/gRPC collector.
	OTLPEndpoint string

	// Attributes are added to the resource, e.g. run_id and worker_id.
	Attributes []attribute.KeyValue
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

// SetupTracing installs a global tracer provider.
//
// Description:
//
//	Builds a batching provider around a stdout exporter writing to
//	TraceFile, or an OTLP gRPC exporter for OTLPEndpoint, and installs it
//	with otel.SetTracerProvider together with W3C propagators. Package
//	tracers created with otel.Tracer pick the provider up lazily.
//
// Inputs:
//   - ctx: Context for exporter construction.
//   - opts: Exporter selection.
//
// Outputs:
//   - ShutdownFunc: Flushes spans. Always non-nil; safe to call when
//     tracing is disabled.
//   - error: Non-nil if the exporter cannot be created.
func SetupTracing(ctx context.Context, opts TracingOptions) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	var (
		exporter sdktrace.SpanExporter
		closer   func() error
		err      error
	)
	switch {
	case opts.TraceFile != "":
		var f *os.File
		f, err = os.OpenFile(opts.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return noop, fmt.Errorf("opening trace file: %w", err)
		}
		closer = f.Close
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(f))
		if err != nil {
			_ = f.Close()
			return noop, fmt.Errorf("creating stdout exporter: %w", err)
		}
	case opts.OTLPEndpoint != "":
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(opts.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(ServiceName)),
		)
		if err != nil {
			return noop, fmt.Errorf("creating OTLP exporter: %w", err)
		}
	default:
		return noop, nil
	}

	attrs := append([]attribute.KeyValue{attribute.String("service.name", ServiceName)}, opts.Attributes...)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		err := provider.Shutdown(ctx)
		if closer != nil {
			err = errors.Join(err, closer())
		}
		return err
	}, nil
}
