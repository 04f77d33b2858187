// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package tracing optionally exports OpenTelemetry spans around the
// connection handshake and dispatcher handling, mirroring the teacher's
// initTracer. It is a no-op when no OTLP endpoint is configured.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// serviceName identifies this process in exported spans.
const serviceName = "router-agent"

// noopShutdown is returned when tracing is not configured, so callers can
// always defer the shutdown func unconditionally.
func noopShutdown(context.Context) error { return nil }

// Setup configures the global OpenTelemetry tracer provider when endpoint is
// non-empty, and returns a shutdown func to flush and release the exporter.
// When endpoint is empty it returns a no-op shutdown and leaves the global
// no-op tracer provider in place, so Tracer() below is always safe to call.
func Setup(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return noopShutdown, nil
	}

	exporter, err := otlptrace.New(
		ctx,
		otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(endpoint),
		),
	)
	if err != nil {
		return noopShutdown, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
		attribute.String("library.language", "go"),
	))
	if err != nil {
		return noopShutdown, fmt.Errorf("failed to create trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// Tracer returns the package tracer, backed by whatever provider Setup
// installed (or the global no-op provider if Setup was never called or was
// called with no endpoint).
func Tracer() trace.Tracer {
	return otel.Tracer(serviceName)
}
