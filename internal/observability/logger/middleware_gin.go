package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier returns the error type and code recorded for the last
	// handler error.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware emits one http_request line per request. Webhook requests
// also carry the gateway the handler resolved.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFor(c)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = obscontext.WithClient(ctx, c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := strings.TrimSpace(c.FullPath())
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()

		fields := make([]zap.Field, 0, 12)
		fields = append(fields,
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		)
		fields = append(fields, resourceFields(c)...)

		var errorType string
		if last := c.Errors.Last(); last != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(last.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		log := FromContext(c.Request.Context())
		if ce := log.Check(requestLevel(route, status, errorType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func requestIDFor(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if requestID == "" {
		requestID = strings.TrimSpace(c.GetString("request_id"))
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.Set("request_id", requestID)
	c.Header(requestIDHeader, requestID)
	return requestID
}

// resourceFields names the order, payment or refund a request touched.
func resourceFields(c *gin.Context) []zap.Field {
	var fields []zap.Field
	if gateway := strings.TrimSpace(c.GetString("gateway")); gateway != "" {
		fields = append(fields, zap.String("gateway", gateway))
	}

	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return fields
	}
	route := c.FullPath()
	switch {
	case strings.HasPrefix(route, "/api/payments/"), strings.HasPrefix(route, "/api/admin/payments/"):
		fields = append(fields, zap.String("payment_id", id))
	case strings.HasPrefix(route, "/api/orders/"), strings.HasPrefix(route, "/api/admin/orders/"):
		fields = append(fields, zap.String("order_id", id))
	}
	if refundID := strings.TrimSpace(c.Param("refund_id")); refundID != "" {
		fields = append(fields, zap.String("refund_id", refundID))
	}
	return fields
}

func requestLevel(route string, status int, errorType string) zapcore.Level {
	switch {
	case route == "/metrics" || route == "/health":
		return zap.DebugLevel
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		return zap.ErrorLevel
	case isWebhookRoute(route) && status >= http.StatusBadRequest:
		// Rejected or throttled webhooks are expected from replay attempts and
		// gateway retries.
		return zap.WarnLevel
	case status == http.StatusTooManyRequests || errorType == "unauthorized" || errorType == "forbidden":
		return zap.WarnLevel
	case status == http.StatusServiceUnavailable:
		return zap.WarnLevel
	default:
		return zap.InfoLevel
	}
}

func isWebhookRoute(route string) bool {
	return strings.HasPrefix(route, "/api/webhooks/") || route == "/api/payments/razorpay/verify"
}
