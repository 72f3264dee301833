package eventlog

import (
	"github.com/stackfleet/conductor/internal/eventlog/domain"
	"github.com/stackfleet/conductor/internal/eventlog/repository"
	"github.com/stackfleet/conductor/internal/eventlog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("eventlog.service",
	fx.Provide(domain.DefaultRegistry),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(func(svc domain.Service) domain.Recorder { return svc }),
)
