package payment

import (
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/refund"
	"github.com/smallbiznis/storefront/internal/payment/repository"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	"github.com/smallbiznis/storefront/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(adapters.Provide),
	fx.Provide(paymentservice.NewService),
	fx.Provide(func(s *paymentservice.Service) paymentdomain.Service { return s }),
	fx.Provide(refund.NewService),
	fx.Provide(webhook.NewService),
)
