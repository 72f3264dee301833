package structure

import (
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
	"github.com/stackfleet/conductor/internal/structure/repository"
	"github.com/stackfleet/conductor/internal/structure/service"
	"go.uber.org/fx"
)

var Module = fx.Module("structure.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(NewResolver),
	fx.Provide(func(r *Resolver) quotadomain.AncestorResolver { return r }),
)
