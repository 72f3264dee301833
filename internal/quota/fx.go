package quota

import (
	"github.com/stackfleet/conductor/internal/quota/repository"
	"github.com/stackfleet/conductor/internal/quota/service"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
