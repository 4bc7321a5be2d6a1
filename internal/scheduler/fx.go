package scheduler

import (
	"context"

	"github.com/smallbiznis/storefront/internal/config"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(func(s *paymentservice.Service) PaymentSyncer { return s }),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      cfg.Scheduler.RunInterval,
		BatchSize:        cfg.Scheduler.BatchSize,
		PendingThreshold: cfg.Scheduler.PendingThreshold,
	}.withDefaults()
}

func NewScheduler(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, sched *Scheduler) {
	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
