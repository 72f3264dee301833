package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/stackfleet/conductor/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	InsertCustomer(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindCustomerByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	ListCustomers(ctx context.Context, db *gorm.DB, name string, page pagination.Pagination) ([]*Customer, error)
	DeleteCustomer(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	CountProjects(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (int64, error)
	InsertMember(ctx context.Context, db *gorm.DB, member *CustomerMember) error

	InsertProject(ctx context.Context, db *gorm.DB, project *Project) error
	FindProjectByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Project, error)
	ListProjects(ctx context.Context, db *gorm.DB, customerID snowflake.ID, page pagination.Pagination) ([]*Project, error)
	DeleteProject(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	CountLinks(ctx context.Context, db *gorm.DB, projectID snowflake.ID) (int64, error)
}
