// Package tracing wires the OTLP trace exporter and hands out the
// pipeline's stage tracer. With no provider installed the tracer is a
// no-op, so callers never need to branch on whether tracing is enabled.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerProvider manages the lifecycle of the OpenTelemetry pipeline.
type TracerProvider struct {
	tp *sdktrace.TracerProvider
}

// NewTracerProvider builds an OTLP gRPC exporter and installs it as the
// global provider.
func NewTracerProvider(serviceName, serviceVersion, otlpEndpoint string) (*TracerProvider, error) {
	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			semconv.ServiceNamespaceKey.String("sentinel-core"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes pending spans and stops the exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.tp.Shutdown(ctx)
}

// StageTracer emits one root span per incident and one child span per
// pipeline stage.
type StageTracer struct {
	tracer trace.Tracer
}

func NewStageTracer(component string) *StageTracer {
	return &StageTracer{tracer: otel.Tracer(component)}
}

func (st *StageTracer) StartIncidentSpan(ctx context.Context, incidentID, trigger string) (context.Context, trace.Span) {
	return st.tracer.Start(ctx, "incident",
		trace.WithAttributes(
			attribute.String("incident.id", incidentID),
			attribute.String("incident.trigger", trigger),
			attribute.String("component", "pipeline"),
		),
	)
}

func (st *StageTracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return st.tracer.Start(ctx, "pipeline_stage",
		trace.WithAttributes(
			attribute.String("stage.name", stage),
			attribute.String("component", "pipeline"),
		),
	)
}

// RecordError marks the span failed and attaches the error event.
func (st *StageTracer) RecordError(span trace.Span, err error) {
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
}
