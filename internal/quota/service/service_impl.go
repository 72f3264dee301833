package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stackfleet/conductor/internal/config"
	eventlogdomain "github.com/stackfleet/conductor/internal/eventlog/domain"
	"github.com/stackfleet/conductor/internal/quota/domain"
	"github.com/stackfleet/conductor/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Cfg      config.Config
	Repo     domain.Repository
	Resolver domain.AncestorResolver
	Recorder eventlogdomain.Recorder
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	repo           domain.Repository
	resolver       domain.AncestorResolver
	recorder       eventlogdomain.Recorder
	alertThreshold float64
}

func New(p Params) domain.Service {
	threshold := p.Cfg.Quota.AlertThreshold
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.8
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("quota.service"),
		genID:          p.GenID,
		repo:           p.Repo,
		resolver:       p.Resolver,
		recorder:       p.Recorder,
		alertThreshold: threshold,
	}
}

func (s *Service) Get(ctx context.Context, owner domain.OwnerRef, name string) (domain.Quota, error) {
	if err := checkArgs(owner, name); err != nil {
		return domain.Quota{}, err
	}
	quota, err := s.repo.Find(ctx, s.db, owner, name)
	if err != nil {
		return domain.Quota{}, err
	}
	if quota == nil {
		return domain.Quota{}, domain.ErrQuotaNotFound
	}
	return *quota, nil
}

func (s *Service) ListByOwner(ctx context.Context, owner domain.OwnerRef) ([]domain.Quota, error) {
	if owner.ID == 0 {
		return nil, domain.ErrInvalidOwner
	}
	items, err := s.repo.ListByOwner(ctx, s.db, owner)
	if err != nil {
		return nil, err
	}
	quotas := make([]domain.Quota, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		quotas = append(quotas, *item)
	}
	return quotas, nil
}

// SetLimit changes enforcement going forward. Existing usage above the new
// limit is left alone; it only surfaces through threshold alerts.
func (s *Service) SetLimit(ctx context.Context, owner domain.OwnerRef, name string, limit float64) error {
	if err := checkArgs(owner, name); err != nil {
		return err
	}
	updated, err := s.repo.UpdateLimit(ctx, s.db, owner, name, limit)
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrQuotaNotFound
	}
	s.recorder.Record(ctx, eventlogdomain.Entry{
		Type:      eventlogdomain.EventQuotaLimitChanged,
		ScopeType: string(owner.Type),
		ScopeID:   owner.ID,
		Message:   "quota limit changed",
		Context:   map[string]any{"name": name, "limit": limit},
	})
	return nil
}

// AddUsage applies delta to the owner's quota row and then to every
// ancestor that declares the same name. Each level is its own atomic
// unit so lock hold time stays bounded regardless of hierarchy depth.
func (s *Service) AddUsage(ctx context.Context, owner domain.OwnerRef, name string, delta float64, failSilently bool) error {
	if err := checkArgs(owner, name); err != nil {
		return err
	}
	if delta == 0 {
		return nil
	}
	applied, err := s.applyDelta(ctx, owner, name, delta, failSilently)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	return s.propagate(ctx, owner, name, delta)
}

// SetUsage writes an absolute value on the owner and funnels the computed
// delta through the same propagation path; ancestors never receive
// absolute values.
func (s *Service) SetUsage(ctx context.Context, owner domain.OwnerRef, name string, usage float64, failSilently bool) error {
	if err := checkArgs(owner, name); err != nil {
		return err
	}

	var (
		delta float64
		found bool
		prev  domain.Quota
		next  domain.Quota
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		quota, err := s.repo.LockForUpdate(ctx, tx, owner, name)
		if err != nil {
			return err
		}
		if quota == nil {
			if failSilently {
				return nil
			}
			return domain.ErrQuotaNotFound
		}
		found = true
		delta = usage - quota.Usage
		if delta == 0 {
			return nil
		}
		prev = *quota
		next = *quota
		next.Usage = usage
		return s.repo.UpdateUsage(ctx, tx, quota.ID, usage)
	})
	if err != nil {
		return err
	}
	if !found || delta == 0 {
		return nil
	}
	s.alertIfCrossed(ctx, prev, next)
	return s.propagate(ctx, owner, name, delta)
}

func (s *Service) propagate(ctx context.Context, owner domain.OwnerRef, name string, delta float64) error {
	ancestors, err := s.resolver.Ancestors(ctx, owner)
	if err != nil {
		return err
	}
	for _, ancestor := range ancestors {
		// an ancestor without this quota name is skipped, not an error
		if _, err := s.applyDelta(ctx, ancestor, name, delta, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyDelta(ctx context.Context, owner domain.OwnerRef, name string, delta float64, failSilently bool) (bool, error) {
	var (
		applied bool
		prev    domain.Quota
		next    domain.Quota
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		quota, err := s.repo.LockForUpdate(ctx, tx, owner, name)
		if err != nil {
			return err
		}
		if quota == nil {
			if failSilently {
				return nil
			}
			return domain.ErrQuotaNotFound
		}
		prev = *quota
		next = *quota
		next.Usage = quota.Usage + delta
		applied = true
		return s.repo.UpdateUsage(ctx, tx, quota.ID, next.Usage)
	})
	if err != nil {
		return false, err
	}
	if applied {
		s.alertIfCrossed(ctx, prev, next)
	}
	return applied, nil
}

func (s *Service) alertIfCrossed(ctx context.Context, prev, next domain.Quota) {
	if !next.IsExceeded(0, s.alertThreshold) || prev.IsExceeded(0, s.alertThreshold) {
		return
	}
	s.recorder.Record(ctx, eventlogdomain.Entry{
		Type:      eventlogdomain.EventQuotaThresholdBreached,
		ScopeType: string(next.OwnerType),
		ScopeID:   next.OwnerID,
		Message:   "quota usage crossed alert threshold",
		Context: map[string]any{
			"name":      next.Name,
			"limit":     next.Limit,
			"usage":     next.Usage,
			"threshold": s.alertThreshold,
		},
	})
}

// Validate collects violations for the owner and for every ancestor that
// declares one of the named quotas. An ancestor exceeding is reported even
// when the immediate owner is not.
func (s *Service) Validate(ctx context.Context, owner domain.OwnerRef, deltas map[string]float64) ([]domain.Violation, error) {
	if owner.ID == 0 {
		return nil, domain.ErrInvalidOwner
	}

	violations, err := s.collect(ctx, owner, deltas, true)
	if err != nil {
		return nil, err
	}

	ancestors, err := s.resolver.Ancestors(ctx, owner)
	if err != nil {
		return nil, err
	}
	for _, ancestor := range ancestors {
		more, err := s.collect(ctx, ancestor, deltas, false)
		if err != nil {
			return nil, err
		}
		violations = append(violations, more...)
	}
	return violations, nil
}

// Enforce is the raising variant of Validate: any violation becomes a
// QuotaExceededError carrying the complete list.
func (s *Service) Enforce(ctx context.Context, owner domain.OwnerRef, deltas map[string]float64) error {
	violations, err := s.Validate(ctx, owner, deltas)
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		return nil
	}
	exceeded := &QuotaExceeded{Violations: violations}
	s.recorder.Record(ctx, eventlogdomain.Entry{
		Type:      eventlogdomain.EventQuotaExceededRejection,
		ScopeType: string(owner.Type),
		ScopeID:   owner.ID,
		Message:   exceeded.Error(),
	})
	return exceeded
}

func (s *Service) collect(ctx context.Context, owner domain.OwnerRef, deltas map[string]float64, strict bool) ([]domain.Violation, error) {
	names := make([]string, 0, len(deltas))
	for name := range deltas {
		names = append(names, name)
	}
	sort.Strings(names)

	var violations []domain.Violation
	for _, name := range names {
		quota, err := s.repo.Find(ctx, s.db, owner, name)
		if err != nil {
			return nil, err
		}
		if quota == nil {
			if strict {
				return nil, domain.ErrQuotaNotFound
			}
			continue
		}
		if quota.IsExceeded(deltas[name], 0) {
			violations = append(violations, domain.Violation{
				Owner:     owner,
				Name:      name,
				Limit:     quota.Limit,
				Requested: quota.Usage + deltas[name],
			})
		}
	}
	return violations, nil
}

// InitQuotas creates the owner's quota rows. Called from the owning
// entity's create path; duplicate rows from a retried create are ignored.
func (s *Service) InitQuotas(ctx context.Context, owner domain.OwnerRef, names []string) error {
	if owner.ID == 0 {
		return domain.ErrInvalidOwner
	}
	now := time.Now().UTC()
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return domain.ErrInvalidName
		}
		quota := domain.Quota{
			ID:        s.genID.Generate(),
			OwnerType: owner.Type,
			OwnerID:   owner.ID,
			Name:      name,
			Limit:     domain.Unlimited,
			Usage:     0,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.Insert(ctx, s.db, &quota); err != nil {
			if db.IsDuplicateKeyErr(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// DropQuotas removes the owner's quota rows on entity teardown.
func (s *Service) DropQuotas(ctx context.Context, owner domain.OwnerRef) error {
	if owner.ID == 0 {
		return domain.ErrInvalidOwner
	}
	return s.repo.DeleteByOwner(ctx, s.db, owner)
}

func checkArgs(owner domain.OwnerRef, name string) error {
	if owner.ID == 0 {
		return domain.ErrInvalidOwner
	}
	if strings.TrimSpace(name) == "" {
		return domain.ErrInvalidName
	}
	return nil
}

// QuotaExceeded aliases the domain error type for brevity at call sites.
type QuotaExceeded = domain.QuotaExceededError
