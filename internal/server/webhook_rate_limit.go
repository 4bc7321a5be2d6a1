package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"go.uber.org/zap"
)

// WebhookRateLimit throttles inbound gateway deliveries per client IP.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		if s.limiter.AllowWebhook(ctx, c.ClientIP()) {
			c.Next()
			return
		}

		logger.FromContext(ctx).Warn("webhook rate limit exceeded",
			zap.String("endpoint", normalizeRateLimitEndpoint(c)),
			zap.String("client_ip", c.ClientIP()),
		)
		c.Header("Retry-After", "1")
		AbortWithError(c, ErrRateLimited)
	}
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
