package retainer

import (
	"github.com/smallbiznis/casebill/internal/retainer/repository"
	"github.com/smallbiznis/casebill/internal/retainer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("retainer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
