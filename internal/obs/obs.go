// Package obs wires OpenTelemetry span export around dispatch runs. It also
// defines an IPC-request span helper, which nothing in this module calls.
// It is off by default; TelemetryConfig.Enabled turns it on.
package obs

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/nanoclaw/internal/config"
)

const tracerName = "nanoclaw"

// Tracer wraps the configured (or no-op) trace.Tracer. A disabled config
// yields the global no-op tracer, so callers never branch on whether
// telemetry is on.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// New builds a Tracer from cfg. When cfg.Enabled is false, it returns a
// Tracer backed by OpenTelemetry's global no-op implementation and a nil
// provider, so Shutdown is always safe to call.
func New(ctx context.Context, cfg config.TelemetryConfig) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: otel.Tracer(tracerName)}, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("obs: build exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "nanoclaw"
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("obs: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{tracer: provider.Tracer(tracerName), provider: provider}, nil
}

func newExporter(ctx context.Context, cfg config.TelemetryConfig) (*otlptrace.Exporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Shutdown flushes and stops span export. Safe to call on a disabled Tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// DispatchRun wraps a single dispatch run in a span named "dispatch.run",
// tagged with the workspace folder and job kind.
func (t *Tracer) DispatchRun(ctx context.Context, folder, kind string) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, "dispatch.run",
		trace.WithAttributes(
			attribute.String("workspace_folder", folder),
			attribute.String("job.kind", kind),
		),
	)
	return ctx, func(err error) { endSpan(span, err) }
}

// IPCRequest wraps a single IPC envelope's handling in a span named
// "ipc.request", tagged with the source folder and request type.
func (t *Tracer) IPCRequest(ctx context.Context, sourceFolder, requestType string) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, "ipc.request",
		trace.WithAttributes(
			attribute.String("source_folder", sourceFolder),
			attribute.String("request.type", requestType),
		),
	)
	return ctx, func(err error) { endSpan(span, err) }
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
