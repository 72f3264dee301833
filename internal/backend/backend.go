package backend

import (
	"context"
	"fmt"

	resourcedomain "github.com/stackfleet/conductor/internal/resource/domain"
)

// Backend performs the slow infrastructure calls. Implementations must
// be safe for concurrent use; the provisioning queue calls them from
// multiple workers.
type Backend interface {
	// SyncLink creates backend-side prerequisites for a link (tenant
	// membership, default security group).
	SyncLink(ctx context.Context, link resourcedomain.ServiceProjectLink) error
	// Provision creates the instance and returns its backend identifier.
	Provision(ctx context.Context, link resourcedomain.ServiceProjectLink, resource resourcedomain.Resource) (string, error)
	Start(ctx context.Context, resource resourcedomain.Resource) error
	Stop(ctx context.Context, resource resourcedomain.Resource) error
	Restart(ctx context.Context, resource resourcedomain.Resource) error
	Destroy(ctx context.Context, resource resourcedomain.Resource) error
}

// Error wraps a failure from the infrastructure backend. Callers treat
// it as final: the operation is not retried automatically.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with the failed backend operation. Returns nil for nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
