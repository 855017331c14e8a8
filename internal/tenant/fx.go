package tenant

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/atrium/internal/tenant/repository"
	"github.com/smallbiznis/atrium/internal/tenant/service"
)

var Module = fx.Module("tenant.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
