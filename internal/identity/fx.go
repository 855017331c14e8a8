package identity

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/atrium/internal/identity/repository"
	"github.com/smallbiznis/atrium/internal/identity/service"
)

var Module = fx.Module("identity.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
