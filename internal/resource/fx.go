package resource

import (
	"github.com/stackfleet/conductor/internal/resource/repository"
	"github.com/stackfleet/conductor/internal/resource/service"
	"go.uber.org/fx"
)

var Module = fx.Module("resource.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.DefaultMetrics),
	fx.Provide(service.New),
)
