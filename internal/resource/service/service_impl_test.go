package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stackfleet/conductor/internal/config"
	eventlogdomain "github.com/stackfleet/conductor/internal/eventlog/domain"
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
	quotarepo "github.com/stackfleet/conductor/internal/quota/repository"
	quotaservice "github.com/stackfleet/conductor/internal/quota/service"
	resourcedomain "github.com/stackfleet/conductor/internal/resource/domain"
	resourcerepo "github.com/stackfleet/conductor/internal/resource/repository"
	resourceservice "github.com/stackfleet/conductor/internal/resource/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noopRecorder struct{}

func (noopRecorder) Record(ctx context.Context, entry eventlogdomain.Entry) {}

type noopResolver struct{}

func (noopResolver) Ancestors(ctx context.Context, owner quotadomain.OwnerRef) ([]quotadomain.OwnerRef, error) {
	return nil, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE projects (
			id BIGINT PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			customer_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE service_project_links (
			id BIGINT PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			project_id BIGINT NOT NULL,
			backend_url TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'new',
			error_message TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE resources (
			id BIGINT PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			link_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			flavor_name TEXT,
			cores INTEGER NOT NULL,
			ram_mb INTEGER NOT NULL,
			disk_mb INTEGER NOT NULL,
			state TEXT NOT NULL DEFAULT 'provisioning_scheduled',
			backend_id TEXT,
			error_message TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE quotas (
			id BIGINT PRIMARY KEY,
			owner_type TEXT NOT NULL,
			owner_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			limit_value DOUBLE PRECISION NOT NULL DEFAULT -1,
			usage_value DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX uq_quota_owner_name ON quotas(owner_type, owner_id, name)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func newService(t *testing.T, nodeID int64) (resourcedomain.Service, quotadomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	quotaSvc := quotaservice.New(quotaservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Cfg:      config.Config{Quota: config.QuotaConfig{AlertThreshold: 0.8}},
		Repo:     quotarepo.Provide(),
		Resolver: noopResolver{},
		Recorder: noopRecorder{},
	})
	svc := resourceservice.New(resourceservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     resourcerepo.Provide(),
		Quotas:   quotaSvc,
		Recorder: noopRecorder{},
		Metrics:  resourceservice.NewMetrics(prometheus.NewRegistry()),
	})
	return svc, quotaSvc, db, node
}

func seedProject(t *testing.T, db *gorm.DB, node *snowflake.Node) snowflake.ID {
	t.Helper()
	id := node.Generate()
	now := time.Now().UTC()
	err := db.Exec(
		`INSERT INTO projects (id, uuid, customer_id, name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, fmt.Sprintf("project-%d", id), node.Generate(), "web", now, now,
	).Error
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return id
}

func createResource(t *testing.T, svc resourcedomain.Service, db *gorm.DB, node *snowflake.Node) resourcedomain.Resource {
	t.Helper()
	ctx := context.Background()

	projectID := seedProject(t, db, node)
	link, err := svc.CreateLink(ctx, resourcedomain.CreateLinkRequest{
		ProjectID:  projectID,
		BackendURL: "https://keystone.example.com:5000/v3",
	})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	resource, err := svc.CreateResource(ctx, resourcedomain.CreateResourceRequest{
		LinkID:     link.ID,
		Name:       "vm-1",
		FlavorName: "m1.small",
		Cores:      2,
		RAMMB:      2048,
		DiskMB:     20480,
	})
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}
	if resource.State != resourcedomain.StateProvisioningScheduled {
		t.Fatalf("new resource state = %s, want provisioning_scheduled", resource.State)
	}
	return resource
}

func mustTransition(t *testing.T, svc resourcedomain.Service, id snowflake.ID, to resourcedomain.State) {
	t.Helper()
	if err := svc.Transition(context.Background(), id, to); err != nil {
		t.Fatalf("transition to %s: %v", to, err)
	}
}

func TestResourceLifecycleWalk(t *testing.T) {
	ctx := context.Background()
	svc, _, db, node := newService(t, 40)
	resource := createResource(t, svc, db, node)

	walk := []resourcedomain.State{
		resourcedomain.StateProvisioning,
		resourcedomain.StateOnline,
		resourcedomain.StateStoppingScheduled,
		resourcedomain.StateStopping,
		resourcedomain.StateOffline,
		resourcedomain.StateStartingScheduled,
		resourcedomain.StateStarting,
		resourcedomain.StateOnline,
		resourcedomain.StateRestartingScheduled,
		resourcedomain.StateRestarting,
		resourcedomain.StateOnline,
		resourcedomain.StateStoppingScheduled,
		resourcedomain.StateStopping,
		resourcedomain.StateOffline,
		resourcedomain.StateDeletionScheduled,
		resourcedomain.StateDeleting,
		resourcedomain.StateDeleted,
	}
	for _, to := range walk {
		mustTransition(t, svc, resource.ID, to)
	}

	got, err := svc.GetResource(ctx, resource.ID)
	if err != nil {
		t.Fatalf("get resource: %v", err)
	}
	if got.State != resourcedomain.StateDeleted {
		t.Fatalf("state = %s, want deleted", got.State)
	}

	// deleted is terminal
	err = svc.Transition(ctx, resource.ID, resourcedomain.StateProvisioning)
	if !errors.Is(err, resourcedomain.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition out of deleted, got %v", err)
	}
	err = svc.SetErred(ctx, resource.ID, "boom")
	if !errors.Is(err, resourcedomain.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for erred from deleted, got %v", err)
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	ctx := context.Background()
	svc, _, db, node := newService(t, 41)
	resource := createResource(t, svc, db, node)

	err := svc.Transition(ctx, resource.ID, resourcedomain.StateStoppingScheduled)
	if !errors.Is(err, resourcedomain.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	// the failed attempt must not move the row
	got, err := svc.GetResource(ctx, resource.ID)
	if err != nil {
		t.Fatalf("get resource: %v", err)
	}
	if got.State != resourcedomain.StateProvisioningScheduled {
		t.Fatalf("state = %s, want provisioning_scheduled", got.State)
	}
}

func TestTransitionGuardsDoubleScheduling(t *testing.T) {
	ctx := context.Background()
	svc, _, db, node := newService(t, 42)
	resource := createResource(t, svc, db, node)

	mustTransition(t, svc, resource.ID, resourcedomain.StateProvisioning)

	// a second scheduler loses the guarded update
	err := svc.Transition(ctx, resource.ID, resourcedomain.StateProvisioning)
	if !errors.Is(err, resourcedomain.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition on double schedule, got %v", err)
	}
}

func TestSetErredKeepsSanitizedMessage(t *testing.T) {
	ctx := context.Background()
	svc, _, db, node := newService(t, 43)
	resource := createResource(t, svc, db, node)

	mustTransition(t, svc, resource.ID, resourcedomain.StateProvisioning)
	if err := svc.SetErred(ctx, resource.ID, "  backend\nsaid: "+strings.Repeat("no ", 400)); err != nil {
		t.Fatalf("set erred: %v", err)
	}

	got, err := svc.GetResource(ctx, resource.ID)
	if err != nil {
		t.Fatalf("get resource: %v", err)
	}
	if got.State != resourcedomain.StateErred {
		t.Fatalf("state = %s, want erred", got.State)
	}
	if got.ErrorMessage == "" || strings.Contains(got.ErrorMessage, "\n") {
		t.Fatalf("expected sanitized error message, got %q", got.ErrorMessage)
	}
	if len(got.ErrorMessage) > 500 {
		t.Fatalf("error message too long: %d", len(got.ErrorMessage))
	}

	// erred resources can still be destroyed
	mustTransition(t, svc, resource.ID, resourcedomain.StateDeletionScheduled)
}

func TestTransitionNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _, _, node := newService(t, 44)

	err := svc.Transition(ctx, node.Generate(), resourcedomain.StateProvisioning)
	if !errors.Is(err, resourcedomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLinkLifecycleAndQuotas(t *testing.T) {
	ctx := context.Background()
	svc, quotaSvc, db, node := newService(t, 45)

	projectID := seedProject(t, db, node)
	link, err := svc.CreateLink(ctx, resourcedomain.CreateLinkRequest{
		ProjectID:  projectID,
		BackendURL: "https://keystone.example.com:5000/v3",
	})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	owner := quotadomain.OwnerRef{Type: quotadomain.OwnerLink, ID: link.ID}
	quotas, err := quotaSvc.ListByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("list quotas: %v", err)
	}
	if len(quotas) != len(quotadomain.DefaultNames) {
		t.Fatalf("expected %d link quotas, got %d", len(quotadomain.DefaultNames), len(quotas))
	}

	if err := svc.TransitionLink(ctx, link.ID, resourcedomain.LinkStateCreationScheduled); err != nil {
		t.Fatalf("schedule link sync: %v", err)
	}
	if err := svc.TransitionLink(ctx, link.ID, resourcedomain.LinkStateCreating); err != nil {
		t.Fatalf("begin link sync: %v", err)
	}
	if err := svc.SetLinkErred(ctx, link.ID, "keystone unreachable"); err != nil {
		t.Fatalf("set link erred: %v", err)
	}

	// erred links recover by rescheduling
	if err := svc.TransitionLink(ctx, link.ID, resourcedomain.LinkStateCreationScheduled); err != nil {
		t.Fatalf("reschedule erred link: %v", err)
	}

	err = svc.TransitionLink(ctx, link.ID, resourcedomain.LinkStateInSync)
	if !errors.Is(err, resourcedomain.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for scheduled -> in_sync, got %v", err)
	}

	_, err = svc.CreateResource(ctx, resourcedomain.CreateResourceRequest{
		LinkID: link.ID,
		Name:   "vm-1",
		Cores:  1, RAMMB: 512, DiskMB: 1024,
	})
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}
	err = svc.DeleteLink(ctx, link.ID)
	if !errors.Is(err, resourcedomain.ErrLinkHasResources) {
		t.Fatalf("expected ErrLinkHasResources, got %v", err)
	}
}
