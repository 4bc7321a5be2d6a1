package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "storefront/http"

// GinMiddleware opens a server span per request. Webhook headers come from the
// payment provider, so those spans start a new root linked to any context the
// provider sent.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		parent := c.Request.Context()
		remote := ExtractContext(parent, propagation.HeaderCarrier(c.Request.Header))

		opts := []trace.SpanStartOption{trace.WithSpanKind(trace.SpanKindServer)}
		startCtx := remote
		if isWebhookPath(c.Request.URL.Path) {
			startCtx = parent
			opts = append(opts, trace.WithNewRoot())
			if sc := trace.SpanContextFromContext(remote); sc.IsValid() {
				opts = append(opts, trace.WithLinks(trace.Link{SpanContext: sc}))
			}
		}

		ctx, span := tracer.Start(startCtx, "HTTP "+c.Request.Method, opts...)
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withRequestBaggage(ctx, requestID)
			span.SetAttributes(attribute.String("request_id", requestID))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + c.Request.Method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		}
		if gateway := strings.TrimSpace(c.GetString("gateway")); gateway != "" {
			attrs = append(attrs, attribute.String("payment.gateway", gateway))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status < http.StatusInternalServerError {
			return
		}
		if last := c.Errors.Last(); last != nil {
			if safeErr := SafeError(last.Err); safeErr != nil {
				span.RecordError(safeErr)
			}
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func withRequestBaggage(ctx context.Context, requestID string) context.Context {
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

func isWebhookPath(path string) bool {
	return strings.HasPrefix(path, "/api/webhooks/") || path == "/api/payments/razorpay/verify"
}
