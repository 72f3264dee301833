package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	eventlogdomain "github.com/stackfleet/conductor/internal/eventlog/domain"
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
	"github.com/stackfleet/conductor/internal/structure/domain"
	"github.com/stackfleet/conductor/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Quotas   quotadomain.Service
	Recorder eventlogdomain.Recorder
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	quotas   quotadomain.Service
	recorder eventlogdomain.Recorder
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("structure.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		quotas:   p.Quotas,
		recorder: p.Recorder,
	}
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CreateCustomerRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, domain.ErrInvalidName
	}

	now := time.Now().UTC()
	customer := domain.Customer{
		ID:             s.genID.Generate(),
		UUID:           uuid.NewString(),
		Name:           name,
		Abbreviation:   strings.TrimSpace(req.Abbreviation),
		ContactDetails: strings.TrimSpace(req.ContactDetails),
		Metadata:       datatypes.JSONMap{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.InsertCustomer(ctx, s.db, &customer); err != nil {
		return domain.Customer{}, err
	}

	owner := quotadomain.OwnerRef{Type: quotadomain.OwnerCustomer, ID: customer.ID}
	if err := s.quotas.InitQuotas(ctx, owner, quotadomain.DefaultNames); err != nil {
		return domain.Customer{}, err
	}

	s.recorder.Record(ctx, eventlogdomain.Entry{
		Type:      eventlogdomain.EventCustomerCreated,
		ScopeType: string(quotadomain.OwnerCustomer),
		ScopeID:   customer.ID,
		Message:   "customer created",
		Context:   map[string]any{"name": customer.Name},
	})
	return customer, nil
}

func (s *Service) GetCustomer(ctx context.Context, id snowflake.ID) (domain.Customer, error) {
	if id == 0 {
		return domain.Customer{}, domain.ErrInvalidID
	}
	customer, err := s.repo.FindCustomerByID(ctx, s.db, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if customer == nil {
		return domain.Customer{}, domain.ErrNotFound
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, req domain.ListCustomersRequest) (domain.ListCustomersResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.ListCustomers(ctx, s.db, strings.TrimSpace(req.Name), pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListCustomersResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(customer *domain.Customer) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        customer.ID.String(),
			CreatedAt: customer.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	customers := make([]domain.Customer, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		customers = append(customers, *item)
	}

	resp := domain.ListCustomersResponse{Customers: customers}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// DeleteCustomer refuses while projects still exist so quota usage never
// dangles. Quota rows go down with the customer.
func (s *Service) DeleteCustomer(ctx context.Context, id snowflake.ID) error {
	customer, err := s.repo.FindCustomerByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if customer == nil {
		return domain.ErrNotFound
	}

	count, err := s.repo.CountProjects(ctx, s.db, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return domain.ErrCustomerHasProjects
	}

	if err := s.repo.DeleteCustomer(ctx, s.db, id); err != nil {
		return err
	}
	owner := quotadomain.OwnerRef{Type: quotadomain.OwnerCustomer, ID: id}
	if err := s.quotas.DropQuotas(ctx, owner); err != nil {
		return err
	}

	s.recorder.Record(ctx, eventlogdomain.Entry{
		Type:      eventlogdomain.EventCustomerDeleted,
		ScopeType: string(quotadomain.OwnerCustomer),
		ScopeID:   id,
		Message:   "customer deleted",
		Context:   map[string]any{"name": customer.Name},
	})
	return nil
}

// AddMember grants userID a role within the customer. Re-adding the
// same user replaces nothing; the unique index rejects it.
func (s *Service) AddMember(ctx context.Context, req domain.AddMemberRequest) (domain.CustomerMember, error) {
	if req.CustomerID == 0 || req.UserID == 0 {
		return domain.CustomerMember{}, domain.ErrInvalidID
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if !domain.ValidRole(role) {
		return domain.CustomerMember{}, domain.ErrInvalidRole
	}

	customer, err := s.repo.FindCustomerByID(ctx, s.db, req.CustomerID)
	if err != nil {
		return domain.CustomerMember{}, err
	}
	if customer == nil {
		return domain.CustomerMember{}, domain.ErrNotFound
	}

	member := domain.CustomerMember{
		ID:         s.genID.Generate(),
		CustomerID: req.CustomerID,
		UserID:     req.UserID,
		Role:       role,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.InsertMember(ctx, s.db, &member); err != nil {
		return domain.CustomerMember{}, err
	}
	return member, nil
}

func (s *Service) CreateProject(ctx context.Context, req domain.CreateProjectRequest) (domain.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Project{}, domain.ErrInvalidName
	}
	if req.CustomerID == 0 {
		return domain.Project{}, domain.ErrInvalidID
	}

	customer, err := s.repo.FindCustomerByID(ctx, s.db, req.CustomerID)
	if err != nil {
		return domain.Project{}, err
	}
	if customer == nil {
		return domain.Project{}, domain.ErrNotFound
	}

	now := time.Now().UTC()
	project := domain.Project{
		ID:          s.genID.Generate(),
		UUID:        uuid.NewString(),
		CustomerID:  req.CustomerID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.InsertProject(ctx, s.db, &project); err != nil {
		return domain.Project{}, err
	}

	owner := quotadomain.OwnerRef{Type: quotadomain.OwnerProject, ID: project.ID}
	if err := s.quotas.InitQuotas(ctx, owner, quotadomain.DefaultNames); err != nil {
		return domain.Project{}, err
	}

	s.recorder.Record(ctx, eventlogdomain.Entry{
		Type:      eventlogdomain.EventProjectCreated,
		ScopeType: string(quotadomain.OwnerProject),
		ScopeID:   project.ID,
		Message:   "project created",
		Context:   map[string]any{"name": project.Name, "customer_id": project.CustomerID.String()},
	})
	return project, nil
}

func (s *Service) GetProject(ctx context.Context, id snowflake.ID) (domain.Project, error) {
	if id == 0 {
		return domain.Project{}, domain.ErrInvalidID
	}
	project, err := s.repo.FindProjectByID(ctx, s.db, id)
	if err != nil {
		return domain.Project{}, err
	}
	if project == nil {
		return domain.Project{}, domain.ErrNotFound
	}
	return *project, nil
}

func (s *Service) ListProjects(ctx context.Context, req domain.ListProjectsRequest) (domain.ListProjectsResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.ListProjects(ctx, s.db, req.CustomerID, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListProjectsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(project *domain.Project) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        project.ID.String(),
			CreatedAt: project.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	projects := make([]domain.Project, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		projects = append(projects, *item)
	}

	resp := domain.ListProjectsResponse{Projects: projects}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) DeleteProject(ctx context.Context, id snowflake.ID) error {
	project, err := s.repo.FindProjectByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if project == nil {
		return domain.ErrNotFound
	}

	count, err := s.repo.CountLinks(ctx, s.db, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return domain.ErrProjectHasLinks
	}

	if err := s.repo.DeleteProject(ctx, s.db, id); err != nil {
		return err
	}
	owner := quotadomain.OwnerRef{Type: quotadomain.OwnerProject, ID: id}
	if err := s.quotas.DropQuotas(ctx, owner); err != nil {
		return err
	}

	s.recorder.Record(ctx, eventlogdomain.Entry{
		Type:      eventlogdomain.EventProjectDeleted,
		ScopeType: string(quotadomain.OwnerProject),
		ScopeID:   id,
		Message:   "project deleted",
		Context:   map[string]any{"name": project.Name, "customer_id": project.CustomerID.String()},
	})
	return nil
}
