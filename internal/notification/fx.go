package notification

import (
	"context"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/reconcile"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewHub),
	fx.Provide(newPublisherFromConfig),
	fx.Provide(NewMailer),
	fx.Provide(newDispatcher),
	fx.Provide(func(d *Dispatcher) reconcile.Notifier { return d }),
)

type dispatcherParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Log       *zap.Logger
	Hub       *Hub
	Publisher *Publisher `optional:"true"`
	Mailer    *Mailer
}

func newPublisherFromConfig(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *Publisher {
	if !cfg.Kafka.Enabled() {
		log.Info("kafka disabled, order events are not published")
		return nil
	}
	publisher := NewPublisher(cfg.Kafka)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher
}

func newDispatcher(p dispatcherParams) *Dispatcher {
	var publisher eventPublisher
	if p.Publisher != nil {
		publisher = p.Publisher
	}
	var mailer changeMailer
	if p.Mailer != nil {
		mailer = p.Mailer
	}
	d := NewDispatcher(p.Log, p.Hub, publisher, mailer)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			d.Stop()
			return nil
		},
	})
	return d
}
