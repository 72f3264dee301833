package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/stackfleet/conductor/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateLinkRequest struct {
	ProjectID  snowflake.ID
	BackendURL string
}

type ListLinksRequest struct {
	PageToken string
	PageSize  int
	ProjectID snowflake.ID
}

type ListLinksResponse struct {
	pagination.PageInfo
	Links []ServiceProjectLink `json:"links"`
}

type CreateResourceRequest struct {
	LinkID     snowflake.ID
	Name       string
	FlavorName string
	Cores      int
	RAMMB      int
	DiskMB     int
}

type ListResourcesRequest struct {
	PageToken string
	PageSize  int
	LinkID    snowflake.ID
	State     State
}

type ListResourcesResponse struct {
	pagination.PageInfo
	Resources []Resource `json:"resources"`
}

// Service owns resource and link rows and guards every state change
// against the transition tables. Callers never write states directly.
type Service interface {
	CreateLink(ctx context.Context, req CreateLinkRequest) (ServiceProjectLink, error)
	GetLink(ctx context.Context, id snowflake.ID) (ServiceProjectLink, error)
	ListLinks(ctx context.Context, req ListLinksRequest) (ListLinksResponse, error)
	DeleteLink(ctx context.Context, id snowflake.ID) error
	TransitionLink(ctx context.Context, id snowflake.ID, to LinkState) error
	SetLinkErred(ctx context.Context, id snowflake.ID, message string) error

	CreateResource(ctx context.Context, req CreateResourceRequest) (Resource, error)
	GetResource(ctx context.Context, id snowflake.ID) (Resource, error)
	ListResources(ctx context.Context, req ListResourcesRequest) (ListResourcesResponse, error)
	Transition(ctx context.Context, id snowflake.ID, to State) error
	SetErred(ctx context.Context, id snowflake.ID, message string) error
	SetBackendID(ctx context.Context, id snowflake.ID, backendID string) error
}

var (
	ErrNotFound         = errors.New("not_found")
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidSizing    = errors.New("invalid_sizing")
	ErrInvalidState     = errors.New("invalid_state")
	ErrLinkHasResources = errors.New("link_has_resources")
)

type Repository interface {
	InsertLink(ctx context.Context, db *gorm.DB, link *ServiceProjectLink) error
	FindLinkByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ServiceProjectLink, error)
	ListLinks(ctx context.Context, db *gorm.DB, projectID snowflake.ID, page pagination.Pagination) ([]*ServiceProjectLink, error)
	DeleteLink(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	CountResources(ctx context.Context, db *gorm.DB, linkID snowflake.ID) (int64, error)
	ProjectExists(ctx context.Context, db *gorm.DB, projectID snowflake.ID) (bool, error)
	// UpdateLinkState flips state only when the row is in one of from.
	UpdateLinkState(ctx context.Context, db *gorm.DB, id snowflake.ID, from []LinkState, to LinkState, message string) (bool, error)

	InsertResource(ctx context.Context, db *gorm.DB, resource *Resource) error
	FindResourceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Resource, error)
	ListResources(ctx context.Context, db *gorm.DB, linkID snowflake.ID, state State, page pagination.Pagination) ([]*Resource, error)
	// UpdateResourceState flips state only when the row is in one of from.
	UpdateResourceState(ctx context.Context, db *gorm.DB, id snowflake.ID, from []State, to State, message string) (bool, error)
	UpdateBackendID(ctx context.Context, db *gorm.DB, id snowflake.ID, backendID string) (bool, error)
}
