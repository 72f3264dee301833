package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stackfleet/conductor/internal/backend"
	resourcedomain "github.com/stackfleet/conductor/internal/resource/domain"
)

// Backend is an in-memory stand-in for a real cloud. Used for local
// development and by the provisioning tests; failures are scripted per
// operation with FailNext.
type Backend struct {
	mu       sync.Mutex
	seq      int
	servers  map[string]bool // backendID -> running
	failures map[string]error
	calls    []string
}

func New() *Backend {
	return &Backend{
		servers:  map[string]bool{},
		failures: map[string]error{},
	}
}

// FailNext makes the next call of op return err wrapped as a backend
// error. Pass nil to clear.
func (b *Backend) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, op)
		return
	}
	b.failures[op] = err
}

// Calls returns the operations performed, in order.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *Backend) take(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, op)
	if err, ok := b.failures[op]; ok {
		delete(b.failures, op)
		return backend.Wrap(op, err)
	}
	return nil
}

func (b *Backend) SyncLink(ctx context.Context, link resourcedomain.ServiceProjectLink) error {
	return b.take("sync_link")
}

func (b *Backend) Provision(ctx context.Context, link resourcedomain.ServiceProjectLink, resource resourcedomain.Resource) (string, error) {
	if err := b.take("provision"); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := fmt.Sprintf("fake-%d", b.seq)
	b.servers[id] = true
	return id, nil
}

func (b *Backend) Start(ctx context.Context, resource resourcedomain.Resource) error {
	if err := b.take("start"); err != nil {
		return err
	}
	return b.setRunning(resource.BackendID, true, "start")
}

func (b *Backend) Stop(ctx context.Context, resource resourcedomain.Resource) error {
	if err := b.take("stop"); err != nil {
		return err
	}
	return b.setRunning(resource.BackendID, false, "stop")
}

func (b *Backend) Restart(ctx context.Context, resource resourcedomain.Resource) error {
	if err := b.take("restart"); err != nil {
		return err
	}
	return b.setRunning(resource.BackendID, true, "restart")
}

func (b *Backend) Destroy(ctx context.Context, resource resourcedomain.Resource) error {
	if err := b.take("destroy"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.servers, resource.BackendID)
	return nil
}

func (b *Backend) setRunning(backendID string, running bool, op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.servers[backendID]; !ok {
		return backend.Wrap(op, errors.New("no such server: "+backendID))
	}
	b.servers[backendID] = running
	return nil
}

// Running reports whether the fake server exists and is powered on.
func (b *Backend) Running(backendID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.servers[backendID]
}
