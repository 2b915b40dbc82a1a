package order

import (
	orderdomain "github.com/smallbiznis/pixorder/internal/order/domain"
	"github.com/smallbiznis/pixorder/internal/order/repository"
	"github.com/smallbiznis/pixorder/internal/order/service"
	"github.com/smallbiznis/pixorder/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(limiter *ratelimit.OrderCreateLimiter) orderdomain.CreateGuard {
		if limiter == nil {
			return nil
		}
		return limiter
	}),
	fx.Provide(service.New),
)
