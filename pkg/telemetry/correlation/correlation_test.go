package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "cid-1")
	ctx, cid := EnsureCorrelationID(ctx)
	assert.Equal(t, "cid-1", cid)
	assert.Equal(t, "cid-1", ExtractCorrelationID(ctx))
}

func TestHeadersCarrySpan(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))

	headers := Headers(ctx)
	require.Len(t, headers["correlation_id"], 26)
	assert.NotEmpty(t, headers["published_at"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", headers["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", headers["span_id"])
}

func TestHeadersWithoutSpan(t *testing.T) {
	headers := Headers(context.Background())
	assert.NotEmpty(t, headers["correlation_id"])
	assert.NotContains(t, headers, "trace_id")
}
