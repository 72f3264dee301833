package provisioning_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stackfleet/conductor/internal/backend/fake"
	"github.com/stackfleet/conductor/internal/config"
	eventlogdomain "github.com/stackfleet/conductor/internal/eventlog/domain"
	"github.com/stackfleet/conductor/internal/provisioning"
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
	quotarepo "github.com/stackfleet/conductor/internal/quota/repository"
	quotaservice "github.com/stackfleet/conductor/internal/quota/service"
	resourcedomain "github.com/stackfleet/conductor/internal/resource/domain"
	resourcerepo "github.com/stackfleet/conductor/internal/resource/repository"
	resourceservice "github.com/stackfleet/conductor/internal/resource/service"
	"github.com/stackfleet/conductor/internal/structure"
	structuredomain "github.com/stackfleet/conductor/internal/structure/domain"
	structurerepo "github.com/stackfleet/conductor/internal/structure/repository"
	structureservice "github.com/stackfleet/conductor/internal/structure/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noopRecorder struct{}

func (noopRecorder) Record(ctx context.Context, entry eventlogdomain.Entry) {}

type harness struct {
	db           *gorm.DB
	node         *snowflake.Node
	quotas       quotadomain.Service
	resources    resourcedomain.Service
	backend      *fake.Backend
	queue        *provisioning.Queue
	orchestrator *provisioning.Orchestrator

	link     resourcedomain.ServiceProjectLink
	project  structuredomain.Project
	customer structuredomain.Customer
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE customers (
			id BIGINT PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			abbreviation TEXT,
			contact_details TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
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

func newHarness(t *testing.T, nodeID int64) *harness {
	t.Helper()
	ctx := context.Background()

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
		Resolver: structure.NewResolver(db),
		Recorder: noopRecorder{},
	})
	structureSvc := structureservice.New(structureservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     structurerepo.Provide(),
		Quotas:   quotaSvc,
		Recorder: noopRecorder{},
	})
	resourceSvc := resourceservice.New(resourceservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     resourcerepo.Provide(),
		Quotas:   quotaSvc,
		Recorder: noopRecorder{},
		Metrics:  resourceservice.NewMetrics(prometheus.NewRegistry()),
	})

	fakeBackend := fake.New()
	queue := provisioning.NewQueue(2, 16, provisioning.NewThrottle(2), zap.NewNop())
	queue.Start()
	t.Cleanup(queue.Stop)

	orchestrator := provisioning.NewOrchestrator(provisioning.OrchestratorParams{
		Log:       zap.NewNop(),
		Resources: resourceSvc,
		Quotas:    quotaSvc,
		Backend:   fakeBackend,
		Queue:     queue,
		Metrics:   provisioning.NewMetrics(prometheus.NewRegistry()),
	})

	customer, err := structureSvc.CreateCustomer(ctx, structuredomain.CreateCustomerRequest{Name: "Acme Inc"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	project, err := structureSvc.CreateProject(ctx, structuredomain.CreateProjectRequest{
		CustomerID: customer.ID,
		Name:       "web",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	link, err := resourceSvc.CreateLink(ctx, resourcedomain.CreateLinkRequest{
		ProjectID:  project.ID,
		BackendURL: "https://keystone.example.com:5000/v3",
	})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}

	return &harness{
		db:           db,
		node:         node,
		quotas:       quotaSvc,
		resources:    resourceSvc,
		backend:      fakeBackend,
		queue:        queue,
		orchestrator: orchestrator,
		link:         link,
		project:      project,
		customer:     customer,
	}
}

func (h *harness) createResource(t *testing.T) resourcedomain.Resource {
	t.Helper()
	resource, err := h.resources.CreateResource(context.Background(), resourcedomain.CreateResourceRequest{
		LinkID:     h.link.ID,
		Name:       "vm-1",
		FlavorName: "m1.small",
		Cores:      2,
		RAMMB:      2048,
		DiskMB:     20480,
	})
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}
	return resource
}

func (h *harness) provisionOnline(t *testing.T) resourcedomain.Resource {
	t.Helper()
	ctx := context.Background()

	resource := h.createResource(t)
	if err := h.orchestrator.Schedule(ctx, provisioning.OpProvision, resource.ID); err != nil {
		t.Fatalf("schedule provision: %v", err)
	}
	h.queue.Wait()

	got := h.mustGet(t, resource.ID)
	if got.State != resourcedomain.StateOnline {
		t.Fatalf("state after provision = %s (%s), want online", got.State, got.ErrorMessage)
	}
	return got
}

func (h *harness) mustGet(t *testing.T, id snowflake.ID) resourcedomain.Resource {
	t.Helper()
	resource, err := h.resources.GetResource(context.Background(), id)
	if err != nil {
		t.Fatalf("get resource: %v", err)
	}
	return resource
}

func (h *harness) usage(t *testing.T, owner quotadomain.OwnerRef, name string) float64 {
	t.Helper()
	quota, err := h.quotas.Get(context.Background(), owner, name)
	if err != nil {
		t.Fatalf("get quota %s/%s: %v", owner, name, err)
	}
	return quota.Usage
}

func TestProvisionHappyPath(t *testing.T) {
	h := newHarness(t, 50)
	resource := h.provisionOnline(t)

	if resource.BackendID == "" {
		t.Fatalf("expected backend id to be recorded")
	}
	if !h.backend.Running(resource.BackendID) {
		t.Fatalf("expected fake server %s to be running", resource.BackendID)
	}

	// the link was synced before the first provision
	link, err := h.resources.GetLink(context.Background(), h.link.ID)
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	if link.State != resourcedomain.LinkStateInSync {
		t.Fatalf("link state = %s, want in_sync", link.State)
	}
	calls := h.backend.Calls()
	if len(calls) < 2 || calls[0] != "sync_link" || calls[1] != "provision" {
		t.Fatalf("expected sync_link before provision, got %v", calls)
	}

	// usage consumed on the link and propagated to project and customer
	linkOwner := quotadomain.OwnerRef{Type: quotadomain.OwnerLink, ID: h.link.ID}
	projectOwner := quotadomain.OwnerRef{Type: quotadomain.OwnerProject, ID: h.project.ID}
	customerOwner := quotadomain.OwnerRef{Type: quotadomain.OwnerCustomer, ID: h.customer.ID}
	for _, owner := range []quotadomain.OwnerRef{linkOwner, projectOwner, customerOwner} {
		if got := h.usage(t, owner, quotadomain.NameVCPU); got != 2 {
			t.Fatalf("%s vcpu usage = %v, want 2", owner, got)
		}
		if got := h.usage(t, owner, quotadomain.NameMaxInstances); got != 1 {
			t.Fatalf("%s max_instances usage = %v, want 1", owner, got)
		}
	}
}

func TestProvisionRejectedByAncestorQuota(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 51)

	projectOwner := quotadomain.OwnerRef{Type: quotadomain.OwnerProject, ID: h.project.ID}
	if err := h.quotas.SetLimit(ctx, projectOwner, quotadomain.NameVCPU, 1); err != nil {
		t.Fatalf("set limit: %v", err)
	}

	resource := h.createResource(t) // wants 2 cores
	err := h.orchestrator.Schedule(ctx, provisioning.OpProvision, resource.ID)
	var exceeded *quotadomain.QuotaExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if len(exceeded.Violations) != 1 || exceeded.Violations[0].Owner != projectOwner {
		t.Fatalf("unexpected violations: %v", exceeded.Violations)
	}

	// rejection leaves the resource unscheduled and usage untouched
	got := h.mustGet(t, resource.ID)
	if got.State != resourcedomain.StateProvisioningScheduled {
		t.Fatalf("state = %s, want provisioning_scheduled", got.State)
	}
	if usage := h.usage(t, projectOwner, quotadomain.NameVCPU); usage != 0 {
		t.Fatalf("project vcpu usage = %v, want 0", usage)
	}

	// the link claim never happened, so the link is still schedulable
	link, err := h.resources.GetLink(ctx, h.link.ID)
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	if link.State != resourcedomain.LinkStateNew {
		t.Fatalf("link state after rejection = %s, want new", link.State)
	}

	// raising the limit unblocks a retry on the same resource and link
	if err := h.quotas.SetLimit(ctx, projectOwner, quotadomain.NameVCPU, 4); err != nil {
		t.Fatalf("raise limit: %v", err)
	}
	if err := h.orchestrator.Schedule(ctx, provisioning.OpProvision, resource.ID); err != nil {
		t.Fatalf("retry provision after raising limit: %v", err)
	}
	h.queue.Wait()
	if got := h.mustGet(t, resource.ID); got.State != resourcedomain.StateOnline {
		t.Fatalf("state after retry = %s (%s), want online", got.State, got.ErrorMessage)
	}
}

func TestProvisionDoubleScheduleLosesRace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 52)
	resource := h.createResource(t)

	if err := h.orchestrator.Schedule(ctx, provisioning.OpProvision, resource.ID); err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	err := h.orchestrator.Schedule(ctx, provisioning.OpProvision, resource.ID)
	if !errors.Is(err, resourcedomain.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition on second schedule, got %v", err)
	}
	h.queue.Wait()

	// quota must have been consumed exactly once
	linkOwner := quotadomain.OwnerRef{Type: quotadomain.OwnerLink, ID: h.link.ID}
	if got := h.usage(t, linkOwner, quotadomain.NameMaxInstances); got != 1 {
		t.Fatalf("max_instances usage = %v, want 1", got)
	}
}

func TestStopThenStartWalk(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 53)
	resource := h.provisionOnline(t)

	if err := h.orchestrator.Schedule(ctx, provisioning.OpStop, resource.ID); err != nil {
		t.Fatalf("schedule stop: %v", err)
	}
	h.queue.Wait()
	if got := h.mustGet(t, resource.ID); got.State != resourcedomain.StateOffline {
		t.Fatalf("state after stop = %s, want offline", got.State)
	}
	if h.backend.Running(resource.BackendID) {
		t.Fatalf("expected fake server to be powered off")
	}

	if err := h.orchestrator.Schedule(ctx, provisioning.OpStart, resource.ID); err != nil {
		t.Fatalf("schedule start: %v", err)
	}
	h.queue.Wait()
	if got := h.mustGet(t, resource.ID); got.State != resourcedomain.StateOnline {
		t.Fatalf("state after start = %s, want online", got.State)
	}
}

func TestBackendFailureMarksErredAndKeepsQuota(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 54)
	resource := h.provisionOnline(t)

	linkOwner := quotadomain.OwnerRef{Type: quotadomain.OwnerLink, ID: h.link.ID}
	usageBefore := h.usage(t, linkOwner, quotadomain.NameVCPU)

	h.backend.FailNext("stop", errors.New("hypervisor timed out"))
	if err := h.orchestrator.Schedule(ctx, provisioning.OpStop, resource.ID); err != nil {
		t.Fatalf("schedule stop: %v", err)
	}
	h.queue.Wait()

	got := h.mustGet(t, resource.ID)
	if got.State != resourcedomain.StateErred {
		t.Fatalf("state = %s, want erred", got.State)
	}
	if got.ErrorMessage == "" {
		t.Fatalf("expected error message on erred resource")
	}

	// a failed operation never moves quota usage
	if usage := h.usage(t, linkOwner, quotadomain.NameVCPU); usage != usageBefore {
		t.Fatalf("vcpu usage = %v, want %v", usage, usageBefore)
	}

	// start is illegal from erred; destroy is the way out
	err := h.orchestrator.Schedule(ctx, provisioning.OpStart, resource.ID)
	if !errors.Is(err, resourcedomain.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for start from erred, got %v", err)
	}
	if err := h.orchestrator.Schedule(ctx, provisioning.OpDestroy, resource.ID); err != nil {
		t.Fatalf("schedule destroy from erred: %v", err)
	}
	h.queue.Wait()
	if got := h.mustGet(t, resource.ID); got.State != resourcedomain.StateDeleted {
		t.Fatalf("state = %s, want deleted", got.State)
	}
}

func TestDestroyReleasesQuota(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 55)
	resource := h.provisionOnline(t)

	if err := h.orchestrator.Schedule(ctx, provisioning.OpStop, resource.ID); err != nil {
		t.Fatalf("schedule stop: %v", err)
	}
	h.queue.Wait()
	if err := h.orchestrator.Schedule(ctx, provisioning.OpDestroy, resource.ID); err != nil {
		t.Fatalf("schedule destroy: %v", err)
	}
	h.queue.Wait()

	if got := h.mustGet(t, resource.ID); got.State != resourcedomain.StateDeleted {
		t.Fatalf("state = %s, want deleted", got.State)
	}

	// usage returns to zero at every level of the hierarchy
	owners := []quotadomain.OwnerRef{
		{Type: quotadomain.OwnerLink, ID: h.link.ID},
		{Type: quotadomain.OwnerProject, ID: h.project.ID},
		{Type: quotadomain.OwnerCustomer, ID: h.customer.ID},
	}
	for _, owner := range owners {
		for _, name := range quotadomain.DefaultNames {
			if got := h.usage(t, owner, name); got != 0 {
				t.Fatalf("%s %s usage = %v, want 0", owner, name, got)
			}
		}
	}
}
