package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stackfleet/conductor/internal/authorization"
	"github.com/stackfleet/conductor/internal/provisioning"
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
	resourcedomain "github.com/stackfleet/conductor/internal/resource/domain"
	structuredomain "github.com/stackfleet/conductor/internal/structure/domain"
	"go.uber.org/zap"
)

type fakeAuthz struct {
	err        error
	lastObject string
	lastAction string
	lastScope  string
	calls      int
}

func (f *fakeAuthz) Authorize(ctx context.Context, actor, customerID, object, action string) error {
	f.calls++
	f.lastScope = customerID
	f.lastObject = object
	f.lastAction = action
	_ = ctx
	_ = actor
	return f.err
}

type fakeStructureService struct {
	customer     structuredomain.Customer
	addMember    *structuredomain.AddMemberRequest
	memberErr    error
	getErr       error
	deleteErr    error
	createCalled bool
}

func (f *fakeStructureService) CreateCustomer(ctx context.Context, req structuredomain.CreateCustomerRequest) (structuredomain.Customer, error) {
	f.createCalled = true
	_ = ctx
	f.customer.Name = req.Name
	return f.customer, nil
}

func (f *fakeStructureService) GetCustomer(ctx context.Context, id snowflake.ID) (structuredomain.Customer, error) {
	_ = ctx
	_ = id
	if f.getErr != nil {
		return structuredomain.Customer{}, f.getErr
	}
	return f.customer, nil
}

func (f *fakeStructureService) ListCustomers(ctx context.Context, req structuredomain.ListCustomersRequest) (structuredomain.ListCustomersResponse, error) {
	_ = ctx
	_ = req
	return structuredomain.ListCustomersResponse{Customers: []structuredomain.Customer{f.customer}}, nil
}

func (f *fakeStructureService) DeleteCustomer(ctx context.Context, id snowflake.ID) error {
	_ = ctx
	_ = id
	return f.deleteErr
}

func (f *fakeStructureService) AddMember(ctx context.Context, req structuredomain.AddMemberRequest) (structuredomain.CustomerMember, error) {
	_ = ctx
	if f.memberErr != nil {
		return structuredomain.CustomerMember{}, f.memberErr
	}
	f.addMember = &req
	return structuredomain.CustomerMember{
		CustomerID: req.CustomerID,
		UserID:     req.UserID,
		Role:       req.Role,
	}, nil
}

func (f *fakeStructureService) CreateProject(ctx context.Context, req structuredomain.CreateProjectRequest) (structuredomain.Project, error) {
	_ = ctx
	_ = req
	return structuredomain.Project{}, nil
}

func (f *fakeStructureService) GetProject(ctx context.Context, id snowflake.ID) (structuredomain.Project, error) {
	_ = ctx
	_ = id
	return structuredomain.Project{}, nil
}

func (f *fakeStructureService) ListProjects(ctx context.Context, req structuredomain.ListProjectsRequest) (structuredomain.ListProjectsResponse, error) {
	_ = ctx
	_ = req
	return structuredomain.ListProjectsResponse{}, nil
}

func (f *fakeStructureService) DeleteProject(ctx context.Context, id snowflake.ID) error {
	_ = ctx
	_ = id
	return nil
}

func newTestServer(authz *fakeAuthz, structureSvc structuredomain.Service) (*Server, *gin.Engine) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:       router,
		log:          zap.NewNop(),
		authzSvc:     authz,
		structureSvc: structureSvc,
	}
	srv.registerAPIRoutes()
	return srv, router
}

func doJSON(router *gin.Engine, method, path, actor, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBufferString("{}")
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor", actor)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestActorRequired(t *testing.T) {
	_, router := newTestServer(&fakeAuthz{}, &fakeStructureService{})

	resp := doJSON(router, http.MethodGet, "/api/customers", "", "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without actor, got %d", resp.Code)
	}

	resp = doJSON(router, http.MethodGet, "/api/customers", "robot:7", "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed actor, got %d", resp.Code)
	}
}

func TestCreateCustomerAddsCreatorAsOwner(t *testing.T) {
	structureSvc := &fakeStructureService{
		customer: structuredomain.Customer{ID: snowflake.ID(42)},
	}
	_, router := newTestServer(&fakeAuthz{}, structureSvc)

	resp := doJSON(router, http.MethodPost, "/api/customers", "user:101", `{"name":"Acme"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !structureSvc.createCalled {
		t.Fatal("expected create to be called")
	}
	if structureSvc.addMember == nil {
		t.Fatal("expected creator to be added as member")
	}
	if structureSvc.addMember.Role != structuredomain.RoleOwner {
		t.Fatalf("expected owner role, got %q", structureSvc.addMember.Role)
	}
	if structureSvc.addMember.UserID != snowflake.ID(101) {
		t.Fatalf("expected user 101, got %s", structureSvc.addMember.UserID)
	}
}

func TestCreateCustomerSystemActorSkipsMembership(t *testing.T) {
	structureSvc := &fakeStructureService{
		customer: structuredomain.Customer{ID: snowflake.ID(42)},
	}
	_, router := newTestServer(&fakeAuthz{}, structureSvc)

	resp := doJSON(router, http.MethodPost, "/api/customers", "system", `{"name":"Acme"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if structureSvc.addMember != nil {
		t.Fatal("expected no membership for system actor")
	}
}

func TestGetCustomerForbidden(t *testing.T) {
	authz := &fakeAuthz{err: authorization.ErrForbidden}
	_, router := newTestServer(authz, &fakeStructureService{})

	resp := doJSON(router, http.MethodGet, "/api/customers/42", "user:101", "")
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	if authz.lastObject != authorization.ObjectCustomer {
		t.Fatalf("expected customer object, got %q", authz.lastObject)
	}
	if authz.lastScope != "42" {
		t.Fatalf("expected scope 42, got %q", authz.lastScope)
	}
}

func TestDeleteCustomerConflictWithProjects(t *testing.T) {
	structureSvc := &fakeStructureService{deleteErr: structuredomain.ErrCustomerHasProjects}
	_, router := newTestServer(&fakeAuthz{}, structureSvc)

	resp := doJSON(router, http.MethodDelete, "/api/customers/42", "system", "")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestAddMemberInvalidRole(t *testing.T) {
	structureSvc := &fakeStructureService{memberErr: structuredomain.ErrInvalidRole}
	authz := &fakeAuthz{}
	_, router := newTestServer(authz, structureSvc)

	resp := doJSON(router, http.MethodPost, "/api/customers/42/members", "system", `{"user_id":"7","role":"emperor"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if authz.lastAction != authorization.ActionCustomerManageMembers {
		t.Fatalf("expected manage_members action, got %q", authz.lastAction)
	}
}

func TestMapErrorQuotaExceeded(t *testing.T) {
	err := &quotadomain.QuotaExceededError{
		Violations: []quotadomain.Violation{
			{
				Owner:     quotadomain.OwnerRef{Type: quotadomain.OwnerProject, ID: snowflake.ID(7)},
				Name:      quotadomain.NameVCPU,
				Limit:     1,
				Requested: 3,
			},
		},
	}

	status, payload := mapError(err)
	if status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
	if payload.Type != "quota_exceeded" {
		t.Fatalf("expected quota_exceeded, got %q", payload.Type)
	}
	if len(payload.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(payload.Violations))
	}

	raw, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		t.Fatalf("marshal payload: %v", marshalErr)
	}
	if !bytes.Contains(raw, []byte(`"violations"`)) {
		t.Fatalf("expected violations in payload, got %s", raw)
	}
}

func TestMapErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{resourcedomain.ErrIllegalTransition, http.StatusConflict},
		{resourcedomain.ErrNotFound, http.StatusNotFound},
		{resourcedomain.ErrInvalidSizing, http.StatusBadRequest},
		{structuredomain.ErrProjectHasLinks, http.StatusConflict},
		{quotadomain.ErrQuotaNotFound, http.StatusNotFound},
		{provisioning.ErrQueueFull, http.StatusServiceUnavailable},
		{authorization.ErrInvalidActor, http.StatusUnauthorized},
		{ErrRateLimited, http.StatusTooManyRequests},
	}

	for _, tc := range cases {
		status, _ := mapError(tc.err)
		if status != tc.status {
			t.Fatalf("expected %d for %v, got %d", tc.status, tc.err, status)
		}
	}
}
