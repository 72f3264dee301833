package structure

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
	"gorm.io/gorm"
)

// Resolver walks the ownership hierarchy bottom-up:
// project_link -> project -> customer. The quota engine depends on this
// to propagate usage deltas and collect ancestor violations.
type Resolver struct {
	db *gorm.DB
}

func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

func (r *Resolver) Ancestors(ctx context.Context, owner quotadomain.OwnerRef) ([]quotadomain.OwnerRef, error) {
	switch owner.Type {
	case quotadomain.OwnerCustomer:
		return nil, nil

	case quotadomain.OwnerProject:
		customerID, err := r.customerOf(ctx, owner.ID)
		if err != nil || customerID == 0 {
			return nil, err
		}
		return []quotadomain.OwnerRef{
			{Type: quotadomain.OwnerCustomer, ID: customerID},
		}, nil

	case quotadomain.OwnerLink:
		projectID, err := r.projectOf(ctx, owner.ID)
		if err != nil || projectID == 0 {
			return nil, err
		}
		ancestors := []quotadomain.OwnerRef{
			{Type: quotadomain.OwnerProject, ID: projectID},
		}
		customerID, err := r.customerOf(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if customerID != 0 {
			ancestors = append(ancestors, quotadomain.OwnerRef{Type: quotadomain.OwnerCustomer, ID: customerID})
		}
		return ancestors, nil

	default:
		return nil, fmt.Errorf("unknown owner type %q", owner.Type)
	}
}

func (r *Resolver) customerOf(ctx context.Context, projectID snowflake.ID) (snowflake.ID, error) {
	var customerID snowflake.ID
	err := r.db.WithContext(ctx).Raw(
		`SELECT customer_id FROM projects WHERE id = ?`,
		projectID,
	).Scan(&customerID).Error
	return customerID, err
}

func (r *Resolver) projectOf(ctx context.Context, linkID snowflake.ID) (snowflake.ID, error) {
	var projectID snowflake.ID
	err := r.db.WithContext(ctx).Raw(
		`SELECT project_id FROM service_project_links WHERE id = ?`,
		linkID,
	).Scan(&projectID).Error
	return projectID, err
}
