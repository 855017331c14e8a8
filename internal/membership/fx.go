package membership

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/atrium/internal/membership/repository"
	"github.com/smallbiznis/atrium/internal/membership/service"
)

var Module = fx.Module("membership.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(repository.NewInviteLedger),
	fx.Provide(service.NewService),
)
