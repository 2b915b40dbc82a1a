package manualreview

import (
	"github.com/smallbiznis/pixorder/internal/manualreview/domain"
	"github.com/smallbiznis/pixorder/internal/manualreview/repository"
	"github.com/smallbiznis/pixorder/internal/manualreview/service"
	"github.com/smallbiznis/pixorder/internal/proofstorage"
	"go.uber.org/fx"
)

var Module = fx.Module("manualreview.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(store *proofstorage.Store) domain.ProofStore {
		if store == nil {
			return nil
		}
		return store
	}),
	fx.Provide(service.New),
)
