package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stackfleet/conductor/internal/resource/domain"
	"github.com/stackfleet/conductor/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertLink(ctx context.Context, db *gorm.DB, link *domain.ServiceProjectLink) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO service_project_links (id, uuid, project_id, backend_url, state, error_message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		link.ID,
		link.UUID,
		link.ProjectID,
		link.BackendURL,
		link.State,
		link.ErrorMessage,
		link.CreatedAt,
		link.UpdatedAt,
	).Error
}

func (r *repo) FindLinkByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ServiceProjectLink, error) {
	var link domain.ServiceProjectLink
	err := db.WithContext(ctx).
		Model(&domain.ServiceProjectLink{}).
		Where("id = ?", id).
		Take(&link).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}

func (r *repo) ListLinks(ctx context.Context, db *gorm.DB, projectID snowflake.ID, page pagination.Pagination) ([]*domain.ServiceProjectLink, error) {
	var links []*domain.ServiceProjectLink
	stmt := db.WithContext(ctx).Model(&domain.ServiceProjectLink{})
	if projectID != 0 {
		stmt = stmt.Where("project_id = ?", projectID)
	}
	stmt, limit, err := applyCursor(stmt, page)
	if err != nil {
		return nil, err
	}
	err = stmt.
		Order("created_at desc, id desc").
		Limit(limit + 1).
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	return links, nil
}

func (r *repo) DeleteLink(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM service_project_links WHERE id = ?`, id).Error
}

func (r *repo) CountResources(ctx context.Context, db *gorm.DB, linkID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM resources WHERE link_id = ? AND state != ?`,
		linkID,
		domain.StateDeleted,
	).Scan(&count).Error
	return count, err
}

func (r *repo) ProjectExists(ctx context.Context, db *gorm.DB, projectID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM projects WHERE id = ?`,
		projectID,
	).Scan(&count).Error
	return count > 0, err
}

func (r *repo) UpdateLinkState(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.LinkState, to domain.LinkState, message string) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE service_project_links SET state = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND state IN ?`,
		to,
		message,
		time.Now().UTC(),
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertResource(ctx context.Context, db *gorm.DB, resource *domain.Resource) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO resources (id, uuid, link_id, name, flavor_name, cores, ram_mb, disk_mb, state, backend_id, error_message, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		resource.ID,
		resource.UUID,
		resource.LinkID,
		resource.Name,
		resource.FlavorName,
		resource.Cores,
		resource.RAMMB,
		resource.DiskMB,
		resource.State,
		resource.BackendID,
		resource.ErrorMessage,
		resource.Metadata,
		resource.CreatedAt,
		resource.UpdatedAt,
	).Error
}

func (r *repo) FindResourceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Resource, error) {
	var resource domain.Resource
	err := db.WithContext(ctx).
		Model(&domain.Resource{}).
		Where("id = ?", id).
		Take(&resource).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &resource, nil
}

func (r *repo) ListResources(ctx context.Context, db *gorm.DB, linkID snowflake.ID, state domain.State, page pagination.Pagination) ([]*domain.Resource, error) {
	var resources []*domain.Resource
	stmt := db.WithContext(ctx).Model(&domain.Resource{})
	if linkID != 0 {
		stmt = stmt.Where("link_id = ?", linkID)
	}
	if state != "" {
		stmt = stmt.Where("state = ?", state)
	}
	stmt, limit, err := applyCursor(stmt, page)
	if err != nil {
		return nil, err
	}
	err = stmt.
		Order("created_at desc, id desc").
		Limit(limit + 1).
		Find(&resources).Error
	if err != nil {
		return nil, err
	}
	return resources, nil
}

// UpdateResourceState is the single write path for resource states. The
// IN guard makes concurrent scheduling race-safe: only one caller wins
// the row, everyone else sees zero rows affected.
func (r *repo) UpdateResourceState(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.State, to domain.State, message string) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE resources SET state = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND state IN ?`,
		to,
		message,
		time.Now().UTC(),
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateBackendID(ctx context.Context, db *gorm.DB, id snowflake.ID, backendID string) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE resources SET backend_id = ?, updated_at = ? WHERE id = ?`,
		backendID,
		time.Now().UTC(),
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
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
