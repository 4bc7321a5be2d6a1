package ratelimit

import (
	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ratelimit",
	fx.Provide(NewLimiter),
	fx.Invoke(announce),
)

func announce(l *Limiter, cfg config.Config, log *zap.Logger) {
	if !l.Enabled() {
		log.Info("rate limiting disabled, redis not configured")
		return
	}
	log.Info("rate limiting enabled",
		zap.Int("webhook_limit", cfg.WebhookRate.Limit),
		zap.Duration("webhook_window", cfg.WebhookRate.Window),
		zap.Float64("intent_rate", cfg.IntentRate.Rate),
		zap.Int("intent_burst", cfg.IntentRate.Burst),
	)
}
