/*
Package tracing carries an OpenTelemetry tracer in a context.Context so blob
store operations can be traced without package globals.
*/
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys
const (
	AttrKeyBlobID    = "walrusdb.blob.id"
	AttrKeyBlobSize  = "walrusdb.blob.size"
	AttrKeyAttempt   = "walrusdb.store.attempt"
	AttrKeyDatabase  = "walrusdb.database"
	AttrKeyTable     = "walrusdb.table"
	AttrKeyDocument  = "walrusdb.document"
	AttrKeyErrorKind = "walrusdb.error.kind"
)

type ctxKey struct{}

// TracerFromCtx returns the tracer set for the current context.
// If no tracer is currently set in ctx, a no-op tracer is returned.
func TracerFromCtx(ctx context.Context) trace.Tracer {
	tracer, ok := ctx.Value(ctxKey{}).(trace.Tracer)
	if !ok {
		return trace.NewNoopTracerProvider().Tracer("")
	}
	return tracer
}

// SetTracer returns a new context with the given tracer associated with it.
// A nil tracer is replaced with a no-op tracer.
func SetTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("")
	}
	if existing, ok := ctx.Value(ctxKey{}).(trace.Tracer); ok && existing == tracer {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, tracer)
}

// Start is a shortcut for retrieving the context tracer and calling Start.
func Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return TracerFromCtx(ctx).Start(ctx, spanName, opts...)
}

// SetSpanError records err on the span in ctx and marks it failed.
func SetSpanError(ctx context.Context, kind string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String(AttrKeyErrorKind, kind))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// fileSpanExporter closes the trace file when the exporter shuts down.
type fileSpanExporter struct {
	sdktrace.SpanExporter
	io.Closer
}

func (e *fileSpanExporter) Shutdown(ctx context.Context) error {
	defer func() { _ = e.Closer.Close() }()
	if err := e.SpanExporter.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracing: shutdown exporter: %w", err)
	}
	return nil
}

// NewFileProvider creates or truncates the named file and returns a tracer
// provider exporting spans to it as JSON. The caller must Shutdown the
// provider to flush pending spans and close the file.
func NewFileProvider(name, serviceName, version string) (*sdktrace.TracerProvider, error) {
	f, err := os.Create(name) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("tracing: create trace file: %w", err)
	}

	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(f),
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		// Schemaless so the merge never conflicts with the sdk's own schema URL.
		resource.NewSchemaless(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(&fileSpanExporter{exp, f}),
	), nil
}
