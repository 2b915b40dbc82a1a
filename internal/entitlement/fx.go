package entitlement

import "go.uber.org/fx"

var Module = fx.Module("entitlement.client",
	fx.Provide(NewHTTPApplier),
)
