package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/stackfleet/conductor/pkg/db/pagination"
)

type CreateCustomerRequest struct {
	Name           string
	Abbreviation   string
	ContactDetails string
}

type ListCustomersRequest struct {
	PageToken string
	PageSize  int
	Name      string
}

type ListCustomersResponse struct {
	pagination.PageInfo
	Customers []Customer `json:"customers"`
}

type AddMemberRequest struct {
	CustomerID snowflake.ID
	UserID     snowflake.ID
	Role       string
}

type CreateProjectRequest struct {
	CustomerID  snowflake.ID
	Name        string
	Description string
}

type ListProjectsRequest struct {
	PageToken  string
	PageSize   int
	CustomerID snowflake.ID
}

type ListProjectsResponse struct {
	pagination.PageInfo
	Projects []Project `json:"projects"`
}

// Service manages the customer/project hierarchy. Creating an entity
// also creates its quota rows; deleting one tears them down. Deletion
// refuses while dependents exist.
type Service interface {
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (Customer, error)
	GetCustomer(ctx context.Context, id snowflake.ID) (Customer, error)
	ListCustomers(ctx context.Context, req ListCustomersRequest) (ListCustomersResponse, error)
	DeleteCustomer(ctx context.Context, id snowflake.ID) error
	AddMember(ctx context.Context, req AddMemberRequest) (CustomerMember, error)

	CreateProject(ctx context.Context, req CreateProjectRequest) (Project, error)
	GetProject(ctx context.Context, id snowflake.ID) (Project, error)
	ListProjects(ctx context.Context, req ListProjectsRequest) (ListProjectsResponse, error)
	DeleteProject(ctx context.Context, id snowflake.ID) error
}

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidRole         = errors.New("invalid_role")
	ErrInvalidID           = errors.New("invalid_id")
	ErrNotFound            = errors.New("not_found")
	ErrCustomerHasProjects = errors.New("customer_has_projects")
	ErrProjectHasLinks     = errors.New("project_has_links")
)
