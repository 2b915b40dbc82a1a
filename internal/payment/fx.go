package payment

import (
	"github.com/smallbiznis/pixorder/internal/payment/adapters"
	"github.com/smallbiznis/pixorder/internal/payment/adapters/mercadopago"
	"github.com/smallbiznis/pixorder/internal/payment/repository"
	"github.com/smallbiznis/pixorder/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			mercadopago.NewFactory(),
		)
	}),
	fx.Provide(webhook.NewService),
)
