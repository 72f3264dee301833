package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	eventlogdomain "github.com/stackfleet/conductor/internal/eventlog/domain"
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
	"github.com/stackfleet/conductor/internal/resource/domain"
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
	Metrics  *Metrics
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	quotas   quotadomain.Service
	recorder eventlogdomain.Recorder
	metrics  *Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("resource.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		quotas:   p.Quotas,
		recorder: p.Recorder,
		metrics:  p.Metrics,
	}
}

func (s *Service) CreateLink(ctx context.Context, req domain.CreateLinkRequest) (domain.ServiceProjectLink, error) {
	if req.ProjectID == 0 {
		return domain.ServiceProjectLink{}, domain.ErrInvalidID
	}
	backendURL := strings.TrimSpace(req.BackendURL)
	if backendURL == "" {
		return domain.ServiceProjectLink{}, domain.ErrInvalidName
	}

	exists, err := s.repo.ProjectExists(ctx, s.db, req.ProjectID)
	if err != nil {
		return domain.ServiceProjectLink{}, err
	}
	if !exists {
		return domain.ServiceProjectLink{}, domain.ErrNotFound
	}

	now := time.Now().UTC()
	link := domain.ServiceProjectLink{
		ID:         s.genID.Generate(),
		UUID:       uuid.NewString(),
		ProjectID:  req.ProjectID,
		BackendURL: backendURL,
		State:      domain.LinkStateNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.InsertLink(ctx, s.db, &link); err != nil {
		return domain.ServiceProjectLink{}, err
	}

	owner := quotadomain.OwnerRef{Type: quotadomain.OwnerLink, ID: link.ID}
	if err := s.quotas.InitQuotas(ctx, owner, quotadomain.DefaultNames); err != nil {
		return domain.ServiceProjectLink{}, err
	}
	return link, nil
}

func (s *Service) GetLink(ctx context.Context, id snowflake.ID) (domain.ServiceProjectLink, error) {
	if id == 0 {
		return domain.ServiceProjectLink{}, domain.ErrInvalidID
	}
	link, err := s.repo.FindLinkByID(ctx, s.db, id)
	if err != nil {
		return domain.ServiceProjectLink{}, err
	}
	if link == nil {
		return domain.ServiceProjectLink{}, domain.ErrNotFound
	}
	return *link, nil
}

func (s *Service) ListLinks(ctx context.Context, req domain.ListLinksRequest) (domain.ListLinksResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.ListLinks(ctx, s.db, req.ProjectID, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListLinksResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(link *domain.ServiceProjectLink) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        link.ID.String(),
			CreatedAt: link.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	links := make([]domain.ServiceProjectLink, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		links = append(links, *item)
	}

	resp := domain.ListLinksResponse{Links: links}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// DeleteLink refuses while undeleted resources remain; their quota usage
// is pinned to the link's rows.
func (s *Service) DeleteLink(ctx context.Context, id snowflake.ID) error {
	link, err := s.repo.FindLinkByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if link == nil {
		return domain.ErrNotFound
	}

	count, err := s.repo.CountResources(ctx, s.db, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return domain.ErrLinkHasResources
	}

	if err := s.repo.DeleteLink(ctx, s.db, id); err != nil {
		return err
	}
	owner := quotadomain.OwnerRef{Type: quotadomain.OwnerLink, ID: id}
	return s.quotas.DropQuotas(ctx, owner)
}

func (s *Service) TransitionLink(ctx context.Context, id snowflake.ID, to domain.LinkState) error {
	if id == 0 {
		return domain.ErrInvalidID
	}
	if !to.Valid() || to == domain.LinkStateErred {
		return domain.ErrInvalidState
	}

	updated, err := s.repo.UpdateLinkState(ctx, s.db, id, domain.LinkSources(to), to, "")
	if err != nil {
		return err
	}
	if !updated {
		link, err := s.repo.FindLinkByID(ctx, s.db, id)
		if err != nil {
			return err
		}
		if link == nil {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: link %s -> %s", domain.ErrIllegalTransition, link.State, to)
	}

	s.metrics.observe("link", string(to))
	s.recorder.Record(ctx, eventlogdomain.Entry{
		Type:      eventlogdomain.EventLinkStateChanged,
		ScopeType: string(quotadomain.OwnerLink),
		ScopeID:   id,
		Message:   "link state changed",
		Context:   map[string]any{"state": string(to)},
	})
	return nil
}

func (s *Service) SetLinkErred(ctx context.Context, id snowflake.ID, message string) error {
	if id == 0 {
		return domain.ErrInvalidID
	}
	message = domain.SanitizeErrorMessage(message)

	updated, err := s.repo.UpdateLinkState(ctx, s.db, id, domain.LinkSources(domain.LinkStateErred), domain.LinkStateErred, message)
	if err != nil {
		return err
	}
	if !updated {
		link, err := s.repo.FindLinkByID(ctx, s.db, id)
		if err != nil {
			return err
		}
		if link == nil {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: link %s -> %s", domain.ErrIllegalTransition, link.State, domain.LinkStateErred)
	}

	s.metrics.observe("link", string(domain.LinkStateErred))
	s.recorder.Record(ctx, eventlogdomain.Entry{
		Type:      eventlogdomain.EventLinkSyncFailed,
		ScopeType: string(quotadomain.OwnerLink),
		ScopeID:   id,
		Message:   message,
	})
	return nil
}

func (s *Service) CreateResource(ctx context.Context, req domain.CreateResourceRequest) (domain.Resource, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Resource{}, domain.ErrInvalidName
	}
	if req.LinkID == 0 {
		return domain.Resource{}, domain.ErrInvalidID
	}
	if req.Cores <= 0 || req.RAMMB <= 0 || req.DiskMB <= 0 {
		return domain.Resource{}, domain.ErrInvalidSizing
	}

	link, err := s.repo.FindLinkByID(ctx, s.db, req.LinkID)
	if err != nil {
		return domain.Resource{}, err
	}
	if link == nil {
		return domain.Resource{}, domain.ErrNotFound
	}

	now := time.Now().UTC()
	resource := domain.Resource{
		ID:         s.genID.Generate(),
		UUID:       uuid.NewString(),
		LinkID:     req.LinkID,
		Name:       name,
		FlavorName: strings.TrimSpace(req.FlavorName),
		Cores:      req.Cores,
		RAMMB:      req.RAMMB,
		DiskMB:     req.DiskMB,
		State:      domain.StateProvisioningScheduled,
		Metadata:   datatypes.JSONMap{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.InsertResource(ctx, s.db, &resource); err != nil {
		return domain.Resource{}, err
	}
	return resource, nil
}

func (s *Service) GetResource(ctx context.Context, id snowflake.ID) (domain.Resource, error) {
	if id == 0 {
		return domain.Resource{}, domain.ErrInvalidID
	}
	resource, err := s.repo.FindResourceByID(ctx, s.db, id)
	if err != nil {
		return domain.Resource{}, err
	}
	if resource == nil {
		return domain.Resource{}, domain.ErrNotFound
	}
	return *resource, nil
}

func (s *Service) ListResources(ctx context.Context, req domain.ListResourcesRequest) (domain.ListResourcesResponse, error) {
	if req.State != "" && !req.State.Valid() {
		return domain.ListResourcesResponse{}, domain.ErrInvalidState
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.ListResources(ctx, s.db, req.LinkID, req.State, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListResourcesResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(resource *domain.Resource) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        resource.ID.String(),
			CreatedAt: resource.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	resources := make([]domain.Resource, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		resources = append(resources, *item)
	}

	resp := domain.ListResourcesResponse{Resources: resources}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// Transition applies one edge of the state machine. The write is guarded
// by the set of legal source states, so a concurrent caller that lost the
// race gets ErrIllegalTransition, never a silent overwrite.
func (s *Service) Transition(ctx context.Context, id snowflake.ID, to domain.State) error {
	if id == 0 {
		return domain.ErrInvalidID
	}
	if !to.Valid() || to == domain.StateErred {
		return domain.ErrInvalidState
	}

	updated, err := s.repo.UpdateResourceState(ctx, s.db, id, domain.Sources(to), to, "")
	if err != nil {
		return err
	}
	if !updated {
		resource, err := s.repo.FindResourceByID(ctx, s.db, id)
		if err != nil {
			return err
		}
		if resource == nil {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, resource.State, to)
	}

	s.metrics.observe("resource", string(to))
	s.recorder.Record(ctx, eventlogdomain.Entry{
		Type:      eventlogdomain.EventResourceStateChanged,
		ScopeType: "resource",
		ScopeID:   id,
		Message:   "resource state changed",
		Context:   map[string]any{"state": string(to)},
	})
	return nil
}

// SetErred moves the resource to erred from any non-terminal state,
// keeping the sanitized failure message on the row.
func (s *Service) SetErred(ctx context.Context, id snowflake.ID, message string) error {
	if id == 0 {
		return domain.ErrInvalidID
	}
	message = domain.SanitizeErrorMessage(message)

	updated, err := s.repo.UpdateResourceState(ctx, s.db, id, domain.Sources(domain.StateErred), domain.StateErred, message)
	if err != nil {
		return err
	}
	if !updated {
		resource, err := s.repo.FindResourceByID(ctx, s.db, id)
		if err != nil {
			return err
		}
		if resource == nil {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, resource.State, domain.StateErred)
	}

	s.metrics.observe("resource", string(domain.StateErred))
	s.recorder.Record(ctx, eventlogdomain.Entry{
		Type:      eventlogdomain.EventResourceStateChanged,
		ScopeType: "resource",
		ScopeID:   id,
		Message:   message,
		Context:   map[string]any{"state": string(domain.StateErred)},
	})
	return nil
}

func (s *Service) SetBackendID(ctx context.Context, id snowflake.ID, backendID string) error {
	if id == 0 {
		return domain.ErrInvalidID
	}
	updated, err := s.repo.UpdateBackendID(ctx, s.db, id, backendID)
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrNotFound
	}
	return nil
}
