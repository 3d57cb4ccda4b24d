// Package tracing wires OpenTelemetry spans and counters around the Agent
// Runtime and Tool Runtime per SPEC_FULL.md §4.8: one span per agent run,
// one child span per tool call, and counters for findings emitted, tool
// calls by classification, and LLM retries. Replaces the teacher's
// hand-rolled internal/agent/loop_tracing.go with genuine OTel
// instrumentation, exported to the same otlpEndpoint the config names for
// telemetry.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "chainreview"

var (
	tracer          = otel.Tracer(serviceName)
	meter           = otel.Meter(serviceName)
	findingsCounter metric.Int64Counter
	toolCallCounter metric.Int64Counter
	retryCounter    metric.Int64Counter
)

func init() {
	var err error
	findingsCounter, err = meter.Int64Counter("chainreview.findings_emitted")
	if err != nil {
		findingsCounter, _ = meter.Int64Counter("chainreview.findings_emitted_fallback")
	}
	toolCallCounter, err = meter.Int64Counter("chainreview.tool_calls")
	if err != nil {
		toolCallCounter, _ = meter.Int64Counter("chainreview.tool_calls_fallback")
	}
	retryCounter, err = meter.Int64Counter("chainreview.llm_retries")
	if err != nil {
		retryCounter, _ = meter.Int64Counter("chainreview.llm_retries_fallback")
	}
}

// Setup installs a global TracerProvider and MeterProvider exporting to
// endpoint over OTLP. An empty endpoint is a no-op: the global providers
// stay at OTel's default no-op implementation, so every instrumentation
// call site below remains safe to call regardless of whether telemetry is
// configured. The returned shutdown func flushes and closes the exporters;
// callers should defer it.
func Setup(ctx context.Context, endpoint string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	traceExp, err := newTraceExporter(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(stripScheme(endpoint)), otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("tracing: metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))))
	otel.SetMeterProvider(mp)

	tracer = otel.Tracer(serviceName)
	meter = otel.Meter(serviceName)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			slog.Warn("tracing.shutdown_failed", "component", "trace_provider", "error", err)
		}
		if err := mp.Shutdown(ctx); err != nil {
			slog.Warn("tracing.shutdown_failed", "component", "meter_provider", "error", err)
		}
		return nil
	}, nil
}

func newTraceExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	}
	return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return endpoint
}

// StartAgentSpan opens one span covering a single agent's full think-act-
// observe loop.
func StartAgentSpan(ctx context.Context, runID, agentName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("agent", agentName),
		),
	)
}

// StartToolSpan opens one child span covering a single tool invocation.
func StartToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tool.call", trace.WithAttributes(attribute.String("tool", toolName)))
}

// RecordFinding increments the findings-emitted counter, tagged by severity.
func RecordFinding(ctx context.Context, severity string) {
	findingsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
}

// RecordToolCall increments the tool-calls counter, classified by whether
// the call errored.
func RecordToolCall(ctx context.Context, toolName string, isError bool) {
	toolCallCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", toolName),
		attribute.Bool("error", isError),
	))
}

// RecordLLMRetry increments the LLM-retries counter.
func RecordLLMRetry(ctx context.Context, model string) {
	retryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}
