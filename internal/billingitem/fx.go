package billingitem

import (
	"github.com/smallbiznis/casebill/internal/billingitem/repository"
	"github.com/smallbiznis/casebill/internal/billingitem/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingitem.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
