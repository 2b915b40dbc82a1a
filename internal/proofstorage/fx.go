package proofstorage

import "go.uber.org/fx"

var Module = fx.Module("proofstorage",
	fx.Provide(New),
)
