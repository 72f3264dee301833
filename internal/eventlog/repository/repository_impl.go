package repository

import (
	"context"

	"github.com/stackfleet/conductor/internal/eventlog/domain"
	"github.com/stackfleet/conductor/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO events (id, event_type, scope_type, scope_id, message, context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.EventType,
		event.ScopeType,
		event.ScopeID,
		event.Message,
		event.Context,
		event.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Event, error) {
	var events []*domain.Event
	stmt := db.WithContext(ctx).Model(&domain.Event{})
	if filter.EventType != "" {
		stmt = stmt.Where("event_type = ?", filter.EventType)
	}
	if filter.ScopeType != "" {
		stmt = stmt.Where("scope_type = ?", filter.ScopeType)
	}
	if filter.ScopeID != 0 {
		stmt = stmt.Where("scope_id = ?", filter.ScopeID)
	}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		if cursor.CreatedAt != "" {
			stmt = stmt.Where("created_at < ?", cursor.CreatedAt)
		}
	}
	limit := page.PageSize
	if limit <= 0 {
		limit = 50
	}
	err := stmt.
		Order("created_at desc, id desc").
		Limit(limit + 1).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
