package provisioning

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/stackfleet/conductor/internal/backend"
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
	resourcedomain "github.com/stackfleet/conductor/internal/resource/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Op is a resource lifecycle operation that requires a backend call.
type Op string

const (
	OpProvision Op = "provision"
	OpStart     Op = "start"
	OpStop      Op = "stop"
	OpRestart   Op = "restart"
	OpDestroy   Op = "destroy"
)

var ErrUnknownOp = errors.New("unknown_operation")

// opSpec describes the two-phase state walk of a simple operation: the
// claim transition happens synchronously in Schedule, begin runs on the
// worker right before the backend call, success after it.
type opSpec struct {
	claim   resourcedomain.State
	begin   resourcedomain.State
	success resourcedomain.State
	call    func(ctx context.Context, b backend.Backend, res resourcedomain.Resource) error
}

var opSpecs = map[Op]opSpec{
	OpStart: {
		claim:   resourcedomain.StateStartingScheduled,
		begin:   resourcedomain.StateStarting,
		success: resourcedomain.StateOnline,
		call: func(ctx context.Context, b backend.Backend, res resourcedomain.Resource) error {
			return b.Start(ctx, res)
		},
	},
	OpStop: {
		claim:   resourcedomain.StateStoppingScheduled,
		begin:   resourcedomain.StateStopping,
		success: resourcedomain.StateOffline,
		call: func(ctx context.Context, b backend.Backend, res resourcedomain.Resource) error {
			return b.Stop(ctx, res)
		},
	},
	OpRestart: {
		claim:   resourcedomain.StateRestartingScheduled,
		begin:   resourcedomain.StateRestarting,
		success: resourcedomain.StateOnline,
		call: func(ctx context.Context, b backend.Backend, res resourcedomain.Resource) error {
			return b.Restart(ctx, res)
		},
	},
	OpDestroy: {
		claim:   resourcedomain.StateDeletionScheduled,
		begin:   resourcedomain.StateDeleting,
		success: resourcedomain.StateDeleted,
		call: func(ctx context.Context, b backend.Backend, res resourcedomain.Resource) error {
			return b.Destroy(ctx, res)
		},
	},
}

type OrchestratorParams struct {
	fx.In

	Log       *zap.Logger
	Resources resourcedomain.Service
	Quotas    quotadomain.Service
	Backend   backend.Backend
	Queue     *Queue
	Metrics   *Metrics
}

// Orchestrator drives resource lifecycle operations: it claims the state
// transition synchronously, consumes or releases quota, and hands the
// backend call to the queue with success and failure continuations.
type Orchestrator struct {
	log       *zap.Logger
	resources resourcedomain.Service
	quotas    quotadomain.Service
	backend   backend.Backend
	queue     *Queue
	metrics   *Metrics
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	return &Orchestrator{
		log:       p.Log.Named("provisioning.orchestrator"),
		resources: p.Resources,
		quotas:    p.Quotas,
		backend:   p.Backend,
		queue:     p.Queue,
		metrics:   p.Metrics,
	}
}

// Schedule starts op on the resource. The state claim happens before
// this returns, so a caller that lost a race gets ErrIllegalTransition
// here, not an asynchronous surprise.
func (o *Orchestrator) Schedule(ctx context.Context, op Op, resourceID snowflake.ID) error {
	res, err := o.resources.GetResource(ctx, resourceID)
	if err != nil {
		return err
	}
	link, err := o.resources.GetLink(ctx, res.LinkID)
	if err != nil {
		return err
	}

	if op == OpProvision {
		return o.scheduleProvision(ctx, res, link)
	}

	spec, ok := opSpecs[op]
	if !ok {
		return ErrUnknownOp
	}

	if err := o.resources.Transition(ctx, res.ID, spec.claim); err != nil {
		return err
	}

	return o.enqueue(op, link.BackendURL, Task{
		ThrottleKey: link.BackendURL,
		Run: func(taskCtx context.Context) error {
			if err := o.resources.Transition(taskCtx, res.ID, spec.begin); err != nil {
				return err
			}
			return spec.call(taskCtx, o.backend, res)
		},
		OnSuccess: func(taskCtx context.Context) {
			if err := o.resources.Transition(taskCtx, res.ID, spec.success); err != nil {
				o.log.Error("success transition failed",
					zap.String("op", string(op)),
					zap.String("resource_id", res.ID.String()),
					zap.Error(err),
				)
				return
			}
			if op == OpDestroy {
				o.releaseQuota(taskCtx, res, link)
			}
			o.metrics.observe(op, "success")
		},
		OnFailure: o.failureContinuation(op, res.ID),
	})
}

// scheduleProvision validates and consumes quota, claims the resource,
// and chains a link sync in front of the backend call when the link is
// not in_sync yet. The link claim comes last: a rejected provision must
// leave the link exactly where it was, or the next attempt on it would
// fail its claim transition.
func (o *Orchestrator) scheduleProvision(ctx context.Context, res resourcedomain.Resource, link resourcedomain.ServiceProjectLink) error {
	owner := quotadomain.OwnerRef{Type: quotadomain.OwnerLink, ID: link.ID}
	deltas := usageDeltas(res)
	if err := o.quotas.Enforce(ctx, owner, deltas); err != nil {
		return err
	}

	if err := o.resources.Transition(ctx, res.ID, resourcedomain.StateProvisioning); err != nil {
		return err
	}

	// usage is consumed up front; a failed provision leaves the erred
	// resource holding it until the resource is destroyed
	for _, name := range quotadomain.DefaultNames {
		if err := o.quotas.AddUsage(ctx, owner, name, deltas[name], false); err != nil {
			_ = o.resources.SetErred(ctx, res.ID, err.Error())
			return err
		}
	}

	needSync := link.State != resourcedomain.LinkStateInSync
	if needSync {
		if err := o.resources.TransitionLink(ctx, link.ID, resourcedomain.LinkStateCreationScheduled); err != nil {
			// a concurrent provision claimed the sync first; give the
			// usage back and surface the race to the caller
			o.releaseQuota(ctx, res, link)
			_ = o.resources.SetErred(ctx, res.ID, err.Error())
			return err
		}
	}

	return o.enqueue(OpProvision, link.BackendURL, Task{
		ThrottleKey: link.BackendURL,
		Run: func(taskCtx context.Context) error {
			if needSync {
				if err := o.syncLink(taskCtx, link); err != nil {
					return err
				}
			}
			backendID, err := o.backend.Provision(taskCtx, link, res)
			if err != nil {
				return err
			}
			return o.resources.SetBackendID(taskCtx, res.ID, backendID)
		},
		OnSuccess: func(taskCtx context.Context) {
			if err := o.resources.Transition(taskCtx, res.ID, resourcedomain.StateOnline); err != nil {
				o.log.Error("success transition failed",
					zap.String("op", string(OpProvision)),
					zap.String("resource_id", res.ID.String()),
					zap.Error(err),
				)
				return
			}
			o.metrics.observe(OpProvision, "success")
		},
		OnFailure: o.failureContinuation(OpProvision, res.ID),
	})
}

func (o *Orchestrator) syncLink(ctx context.Context, link resourcedomain.ServiceProjectLink) error {
	if err := o.resources.TransitionLink(ctx, link.ID, resourcedomain.LinkStateCreating); err != nil {
		return err
	}
	if err := o.backend.SyncLink(ctx, link); err != nil {
		if erredErr := o.resources.SetLinkErred(ctx, link.ID, err.Error()); erredErr != nil {
			o.log.Error("marking link erred failed",
				zap.String("link_id", link.ID.String()),
				zap.Error(erredErr),
			)
		}
		return err
	}
	return o.resources.TransitionLink(ctx, link.ID, resourcedomain.LinkStateInSync)
}

func (o *Orchestrator) enqueue(op Op, backendURL string, task Task) error {
	if err := o.queue.Enqueue(task); err != nil {
		return err
	}
	o.log.Info("operation scheduled",
		zap.String("op", string(op)),
		zap.String("backend_url", backendURL),
	)
	return nil
}

// failureContinuation marks the resource erred with the backend's
// message. Backend failures are final; recovery is an explicit destroy.
func (o *Orchestrator) failureContinuation(op Op, resourceID snowflake.ID) func(context.Context, error) {
	return func(ctx context.Context, err error) {
		o.metrics.observe(op, "failure")
		o.log.Warn("operation failed",
			zap.String("op", string(op)),
			zap.String("resource_id", resourceID.String()),
			zap.Error(err),
		)
		if erredErr := o.resources.SetErred(ctx, resourceID, err.Error()); erredErr != nil {
			o.log.Error("marking resource erred failed",
				zap.String("resource_id", resourceID.String()),
				zap.Error(erredErr),
			)
		}
	}
}

func (o *Orchestrator) releaseQuota(ctx context.Context, res resourcedomain.Resource, link resourcedomain.ServiceProjectLink) {
	owner := quotadomain.OwnerRef{Type: quotadomain.OwnerLink, ID: link.ID}
	for name, delta := range usageDeltas(res) {
		if err := o.quotas.AddUsage(ctx, owner, name, -delta, true); err != nil {
			o.log.Error("quota release failed",
				zap.String("owner", owner.String()),
				zap.String("quota", name),
				zap.Error(err),
			)
		}
	}
}

func usageDeltas(res resourcedomain.Resource) map[string]float64 {
	return map[string]float64{
		quotadomain.NameVCPU:         float64(res.Cores),
		quotadomain.NameRAMMB:        float64(res.RAMMB),
		quotadomain.NameStorageMB:    float64(res.DiskMB),
		quotadomain.NameMaxInstances: 1,
	}
}
