package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stackfleet/conductor/internal/quota/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, quota *domain.Quota) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO quotas (id, owner_type, owner_id, name, limit_value, usage_value, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		quota.ID,
		quota.OwnerType,
		quota.OwnerID,
		quota.Name,
		quota.Limit,
		quota.Usage,
		quota.CreatedAt,
		quota.UpdatedAt,
	).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, owner domain.OwnerRef, name string) (*domain.Quota, error) {
	var quota domain.Quota
	err := db.WithContext(ctx).
		Model(&domain.Quota{}).
		Where("owner_type = ? AND owner_id = ? AND name = ?", owner.Type, owner.ID, name).
		Take(&quota).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &quota, nil
}

func (r *repo) ListByOwner(ctx context.Context, db *gorm.DB, owner domain.OwnerRef) ([]*domain.Quota, error) {
	var quotas []*domain.Quota
	err := db.WithContext(ctx).
		Model(&domain.Quota{}).
		Where("owner_type = ? AND owner_id = ?", owner.Type, owner.ID).
		Order("name asc").
		Find(&quotas).Error
	if err != nil {
		return nil, err
	}
	return quotas, nil
}

// LockForUpdate takes an exclusive lock on the quota row for the duration
// of tx. SQLite has no row locks; its single-writer model covers us there.
func (r *repo) LockForUpdate(ctx context.Context, tx *gorm.DB, owner domain.OwnerRef, name string) (*domain.Quota, error) {
	stmt := tx.WithContext(ctx).Model(&domain.Quota{})
	if tx.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var quota domain.Quota
	err := stmt.
		Where("owner_type = ? AND owner_id = ? AND name = ?", owner.Type, owner.ID, name).
		Take(&quota).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &quota, nil
}

func (r *repo) UpdateUsage(ctx context.Context, tx *gorm.DB, id snowflake.ID, usage float64) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE quotas SET usage_value = ?, updated_at = ? WHERE id = ?`,
		usage,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repo) UpdateLimit(ctx context.Context, db *gorm.DB, owner domain.OwnerRef, name string, limit float64) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE quotas SET limit_value = ?, updated_at = ?
		 WHERE owner_type = ? AND owner_id = ? AND name = ?`,
		limit,
		time.Now().UTC(),
		owner.Type,
		owner.ID,
		name,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) DeleteByOwner(ctx context.Context, db *gorm.DB, owner domain.OwnerRef) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM quotas WHERE owner_type = ? AND owner_id = ?`,
		owner.Type,
		owner.ID,
	).Error
}
