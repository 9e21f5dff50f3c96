package casefile

import (
	"github.com/smallbiznis/casebill/internal/casefile/repository"
	"github.com/smallbiznis/casebill/internal/casefile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("casefile.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
