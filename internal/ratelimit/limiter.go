package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	keyWebhookIP  = "storefront:rl:webhook:%s"
	keyIntentUser = "storefront:rl:intent:%s"
)

// Limiter guards the webhook endpoints per client IP and intent creation
// per user. Without Redis every request is allowed. Redis errors fail open.
type Limiter struct {
	window  *SlidingWindow
	bucket  *TokenBucket
	cfg     config.Config
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewLimiter(client *redis.Client, cfg config.Config, m *metrics.Metrics, log *zap.Logger) *Limiter {
	return &Limiter{
		window:  NewSlidingWindow(client),
		bucket:  NewTokenBucket(client),
		cfg:     cfg,
		metrics: m,
		log:     log.Named("ratelimit"),
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.window != nil && l.bucket != nil
}

// AllowWebhook reports whether the caller IP may deliver another webhook.
func (l *Limiter) AllowWebhook(ctx context.Context, clientIP string) bool {
	if !l.Enabled() || l.cfg.WebhookRate.Limit <= 0 {
		return true
	}
	allowed, err := l.window.Allow(ctx, keyf(keyWebhookIP, clientIP), l.cfg.WebhookRate.Limit, l.cfg.WebhookRate.Window)
	if err != nil {
		l.log.Warn("webhook rate limit check failed", zap.Error(err))
		return true
	}
	if !allowed {
		l.metrics.RecordRateLimitDenied(ctx, "webhook")
	}
	return allowed
}

// AllowIntent reports whether the user may create another payment intent.
func (l *Limiter) AllowIntent(ctx context.Context, userID string) bool {
	if !l.Enabled() || l.cfg.IntentRate.Rate <= 0 || l.cfg.IntentRate.Burst <= 0 {
		return true
	}
	res, err := l.bucket.Allow(ctx, keyf(keyIntentUser, userID), l.cfg.IntentRate.Rate, l.cfg.IntentRate.Burst)
	if err != nil {
		l.log.Warn("intent rate limit check failed", zap.Error(err))
		return true
	}
	if !res.Allowed {
		l.metrics.RecordRateLimitDenied(ctx, "payment_intent")
	}
	return res.Allowed
}

func keyf(format, value string) string {
	return fmt.Sprintf(format, strings.TrimSpace(value))
}
