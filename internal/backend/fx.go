package backend

import (
	"fmt"

	"github.com/stackfleet/conductor/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Factory builds one backend implementation. Implementations register
// through the Registry assembled in cmd, which keeps this package free
// of driver imports.
type Factory interface {
	Type() string
	New(cfg config.Config, log *zap.Logger) (Backend, error)
}

type Registry struct {
	factories map[string]Factory
}

func NewRegistry(factories ...Factory) *Registry {
	r := &Registry{factories: make(map[string]Factory, len(factories))}
	for _, f := range factories {
		r.factories[f.Type()] = f
	}
	return r
}

func (r *Registry) New(cfg config.Config, log *zap.Logger) (Backend, error) {
	factory, ok := r.factories[cfg.Backend.Type]
	if !ok {
		return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
	return factory.New(cfg, log)
}

var Module = fx.Module("backend",
	fx.Provide(func(registry *Registry, cfg config.Config, log *zap.Logger) (Backend, error) {
		return registry.New(cfg, log)
	}),
)
