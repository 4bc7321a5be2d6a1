package correlation

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

type correlationKey struct{}

// ExtractCorrelationID fetches a correlation ID from the context if present.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID sets the correlation ID onto the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}

// Headers returns the correlation and tracing identifiers attached to
// outbound order events.
func Headers(ctx context.Context) map[string]string {
	_, cid := EnsureCorrelationID(ctx)
	headers := map[string]string{
		"correlation_id": cid,
		"published_at":   time.Now().UTC().Format(time.RFC3339),
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		headers["trace_id"] = sc.TraceID().String()
		headers["span_id"] = sc.SpanID().String()
	}
	return headers
}
