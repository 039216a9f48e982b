// Package tracing wires OpenTelemetry spans for runs, iterations and oracle calls.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "uiagent"

// Span names
const (
	SpanRun       = "uiagent.run"
	SpanIteration = "uiagent.iteration"
	SpanOracle    = "uiagent.oracle.complete"
	SpanAdvisory  = "uiagent.advisory"
	SpanDevice    = "uiagent.device.execute"
)

// Attribute keys
const (
	AttrRunID     = "uiagent.run_id"
	AttrTestID    = "uiagent.test_id"
	AttrDevice    = "uiagent.device"
	AttrStep      = "uiagent.step"
	AttrOracle    = "uiagent.oracle"
	AttrModel     = "uiagent.llm.model"
	AttrVerdict   = "uiagent.verdict"
	AttrCommand   = "uiagent.command"
	AttrStatus    = "uiagent.status"
	AttrAttempt   = "uiagent.attempt"
	AttrIssues    = "uiagent.issues"
	AttrTurnCount = "uiagent.turns"
)

// Start opens a span on the global tracer provider
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(scope).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span and ends it
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrStatus, "error"))
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.String(AttrStatus, "success"))
	}
	span.End()
}

// Config configures the OTLP/HTTP exporter.
type Config struct {
	Endpoint    string // host:port of the collector
	Insecure    bool   // skip TLS for local dev
	ServiceName string
	Version     string
}

// Setup installs a global tracer provider exporting over OTLP/HTTP. With
// no endpoint it does nothing and returns a no-op shutdown.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "uiagent"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(100),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
