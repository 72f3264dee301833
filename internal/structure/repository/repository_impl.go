package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stackfleet/conductor/internal/structure/domain"
	"github.com/stackfleet/conductor/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertCustomer(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (id, uuid, name, abbreviation, contact_details, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.UUID,
		customer.Name,
		customer.Abbreviation,
		customer.ContactDetails,
		customer.Metadata,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) FindCustomerByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("id = ?", id).
		Take(&customer).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repo) ListCustomers(ctx context.Context, db *gorm.DB, name string, page pagination.Pagination) ([]*domain.Customer, error) {
	var customers []*domain.Customer
	stmt := db.WithContext(ctx).Model(&domain.Customer{})
	if name != "" {
		stmt = stmt.Where("name = ?", name)
	}
	stmt, limit, err := applyCursor(stmt, page)
	if err != nil {
		return nil, err
	}
	err = stmt.
		Order("created_at desc, id desc").
		Limit(limit + 1).
		Find(&customers).Error
	if err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *repo) DeleteCustomer(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM customers WHERE id = ?`, id).Error
}

func (r *repo) CountProjects(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM projects WHERE customer_id = ?`,
		customerID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) InsertMember(ctx context.Context, db *gorm.DB, member *domain.CustomerMember) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customer_members (id, customer_id, user_id, role, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		member.ID,
		member.CustomerID,
		member.UserID,
		member.Role,
		member.CreatedAt,
	).Error
}

func (r *repo) InsertProject(ctx context.Context, db *gorm.DB, project *domain.Project) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO projects (id, uuid, customer_id, name, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		project.ID,
		project.UUID,
		project.CustomerID,
		project.Name,
		project.Description,
		project.CreatedAt,
		project.UpdatedAt,
	).Error
}

func (r *repo) FindProjectByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Project, error) {
	var project domain.Project
	err := db.WithContext(ctx).
		Model(&domain.Project{}).
		Where("id = ?", id).
		Take(&project).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &project, nil
}

func (r *repo) ListProjects(ctx context.Context, db *gorm.DB, customerID snowflake.ID, page pagination.Pagination) ([]*domain.Project, error) {
	var projects []*domain.Project
	stmt := db.WithContext(ctx).Model(&domain.Project{})
	if customerID != 0 {
		stmt = stmt.Where("customer_id = ?", customerID)
	}
	stmt, limit, err := applyCursor(stmt, page)
	if err != nil {
		return nil, err
	}
	err = stmt.
		Order("created_at desc, id desc").
		Limit(limit + 1).
		Find(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}

func (r *repo) DeleteProject(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM projects WHERE id = ?`, id).Error
}

func (r *repo) CountLinks(ctx context.Context, db *gorm.DB, projectID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM service_project_links WHERE project_id = ?`,
		projectID,
	).Scan(&count).Error
	return count, err
}

func applyCursor(stmt *gorm.DB, page pagination.Pagination) (*gorm.DB, int, error) {
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, 0, err
		}
		if cursor.CreatedAt != "" {
			ts, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
			if err != nil {
				return nil, 0, err
			}
			stmt = stmt.Where("created_at < ?", ts)
		}
	}
	limit := page.PageSize
	if limit <= 0 {
		limit = 50
	}
	return stmt, limit, nil
}
