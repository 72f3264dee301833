package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stackfleet/conductor/internal/eventlog/domain"
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
	Registry *domain.Registry
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	registry *domain.Registry
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("eventlog.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		registry: p.Registry,
	}
}

// Record persists an event row. Recording never fails the caller's
// operation; a write failure is logged and dropped.
func (s *Service) Record(ctx context.Context, entry domain.Entry) {
	if !s.registry.Known(entry.Type) {
		s.log.Warn("dropping event of unknown type", zap.String("event_type", entry.Type))
		return
	}

	payload := datatypes.JSONMap{}
	for k, v := range entry.Context {
		payload[k] = v
	}

	event := domain.Event{
		ID:        s.genID.Generate(),
		EventType: entry.Type,
		ScopeType: entry.ScopeType,
		ScopeID:   entry.ScopeID,
		Message:   entry.Message,
		Context:   payload,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, s.db, &event); err != nil {
		s.log.Error("failed to record event",
			zap.String("event_type", entry.Type),
			zap.Error(err),
		)
	}
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		EventType: req.EventType,
		ScopeType: req.ScopeType,
		ScopeID:   req.ScopeID,
	}, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(event *domain.Event) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        event.ID.String(),
			CreatedAt: event.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	events := make([]domain.Event, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		events = append(events, *item)
	}

	resp := domain.ListResponse{Events: events}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
