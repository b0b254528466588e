package tracing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestTracerFromCtxFallsBackToNoop(t *testing.T) {
	tracer := TracerFromCtx(context.Background())
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "noop")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestFileProviderWritesSpans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	provider, err := NewFileProvider(path, "walrusdb", "test")
	require.NoError(t, err)

	ctx := SetTracer(context.Background(), provider.Tracer("walrusdb"))
	ctx, span := Start(ctx, "blobstore.store")
	span.SetAttributes(attribute.String(AttrKeyBlobID, "bafk-test"))
	SetSpanError(ctx, "store_exhausted", errors.New("boom"))
	span.End()

	require.NoError(t, provider.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "blobstore.store")
	assert.Contains(t, string(data), "bafk-test")
	assert.Contains(t, string(data), "store_exhausted")
	assert.Contains(t, string(data), "service.name")
}

func TestSetTracerNilUsesNoop(t *testing.T) {
	ctx := SetTracer(context.Background(), nil)
	assert.NotNil(t, TracerFromCtx(ctx))
}
