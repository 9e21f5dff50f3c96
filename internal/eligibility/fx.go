package eligibility

import (
	"github.com/smallbiznis/casebill/internal/eligibility/service"
	"go.uber.org/fx"
)

var Module = fx.Module("eligibility.service",
	fx.Provide(service.NewService),
)
