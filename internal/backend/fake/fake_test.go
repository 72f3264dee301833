package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/stackfleet/conductor/internal/backend"
	resourcedomain "github.com/stackfleet/conductor/internal/resource/domain"
	"github.com/stretchr/testify/assert"
)

func TestFakeBackendLifecycle(t *testing.T) {
	ctx := context.Background()
	b := New()
	link := resourcedomain.ServiceProjectLink{BackendURL: "https://keystone.example.com:5000/v3"}

	assert.NoError(t, b.SyncLink(ctx, link))

	id, err := b.Provision(ctx, link, resourcedomain.Resource{Name: "web-1"})
	assert.NoError(t, err)
	assert.Equal(t, "fake-1", id)
	assert.True(t, b.Running(id))

	res := resourcedomain.Resource{BackendID: id}
	assert.NoError(t, b.Stop(ctx, res))
	assert.False(t, b.Running(id))

	assert.NoError(t, b.Start(ctx, res))
	assert.True(t, b.Running(id))

	assert.NoError(t, b.Destroy(ctx, res))
	assert.False(t, b.Running(id))

	assert.Equal(t, []string{"sync_link", "provision", "stop", "start", "destroy"}, b.Calls())
}

func TestFakeBackendScriptedFailure(t *testing.T) {
	ctx := context.Background()
	b := New()

	boom := errors.New("boom")
	b.FailNext("provision", boom)

	_, err := b.Provision(ctx, resourcedomain.ServiceProjectLink{}, resourcedomain.Resource{})
	assert.ErrorIs(t, err, boom)

	var backendErr *backend.Error
	assert.True(t, errors.As(err, &backendErr))
	assert.Equal(t, "provision", backendErr.Op)

	// one-shot: the next call succeeds
	id, err := b.Provision(ctx, resourcedomain.ServiceProjectLink{}, resourcedomain.Resource{})
	assert.NoError(t, err)
	assert.Equal(t, "fake-1", id)
}

func TestUnknownServerOperations(t *testing.T) {
	ctx := context.Background()
	b := New()

	err := b.Start(ctx, resourcedomain.Resource{BackendID: "missing"})
	assert.Error(t, err)

	// destroy of an unknown server is a no-op, mirroring the 404
	// tolerance of the real driver
	assert.NoError(t, b.Destroy(ctx, resourcedomain.Resource{BackendID: "missing"}))
}
