package provisioning

import (
	"context"

	"github.com/stackfleet/conductor/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("provisioning",
	fx.Provide(func(cfg config.Config) *Throttle {
		return NewThrottle(cfg.Provisioning.ThrottlePerBackend)
	}),
	fx.Provide(func(cfg config.Config, throttle *Throttle, log *zap.Logger) *Queue {
		return NewQueue(cfg.Provisioning.Workers, cfg.Provisioning.QueueDepth, throttle, log)
	}),
	fx.Provide(DefaultMetrics),
	fx.Provide(NewOrchestrator),
	fx.Invoke(func(lc fx.Lifecycle, queue *Queue) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				queue.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				queue.Stop()
				return nil
			},
		})
	}),
)
