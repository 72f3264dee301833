package fake

import (
	"github.com/stackfleet/conductor/internal/backend"
	"github.com/stackfleet/conductor/internal/config"
	"go.uber.org/zap"
)

type factory struct{}

func NewFactory() backend.Factory { return factory{} }

func (factory) Type() string { return config.BackendFake }

func (factory) New(cfg config.Config, log *zap.Logger) (backend.Backend, error) {
	return New(), nil
}
