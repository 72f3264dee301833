package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// OwnerType tags the entity a quota row belongs to. Owners form a forest:
// project_link -> project -> customer.
type OwnerType string

const (
	OwnerCustomer OwnerType = "customer"
	OwnerProject  OwnerType = "project"
	OwnerLink     OwnerType = "project_link"
)

// OwnerRef is a polymorphic reference to a quota owner.
type OwnerRef struct {
	Type OwnerType
	ID   snowflake.ID
}

func (o OwnerRef) String() string {
	return fmt.Sprintf("%s#%s", o.Type, o.ID)
}

// Unlimited disables enforcement for a quota.
const Unlimited float64 = -1

// Well-known quota names tracked across the ownership hierarchy.
const (
	NameVCPU         = "vcpu"
	NameRAMMB        = "ram_mb"
	NameStorageMB    = "storage_mb"
	NameMaxInstances = "max_instances"
)

// DefaultNames is the quota vocabulary declared by every owner level.
var DefaultNames = []string{NameVCPU, NameRAMMB, NameStorageMB, NameMaxInstances}

// Quota is a named (limit, usage) counter attached to an owner. The
// limit is advisory for existing usage; enforcement happens only when a
// new delta is validated.
type Quota struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerType OwnerType    `gorm:"column:owner_type;not null;uniqueIndex:uq_quota_owner_name" json:"owner_type"`
	OwnerID   snowflake.ID `gorm:"column:owner_id;not null;uniqueIndex:uq_quota_owner_name" json:"owner_id"`
	Name      string       `gorm:"not null;uniqueIndex:uq_quota_owner_name" json:"name"`
	Limit     float64      `gorm:"column:limit_value;not null;default:-1" json:"limit"`
	Usage     float64      `gorm:"column:usage_value;not null;default:0" json:"usage"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Quota) TableName() string { return "quotas" }

func (q Quota) Owner() OwnerRef {
	return OwnerRef{Type: q.OwnerType, ID: q.OwnerID}
}

// IsExceeded reports whether usage + delta would exceed the limit. A
// threshold > 0 scales the limit, for soft alert checks. Pure predicate,
// never mutates.
func (q Quota) IsExceeded(delta, threshold float64) bool {
	if q.Limit == Unlimited {
		return false
	}
	limit := q.Limit
	if threshold > 0 {
		limit = threshold * q.Limit
	}
	return q.Usage+delta > limit
}

// Violation describes a single quota that a requested change would exceed.
type Violation struct {
	Owner     OwnerRef `json:"owner"`
	Name      string   `json:"name"`
	Limit     float64  `json:"limit"`
	Requested float64  `json:"requested"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s quota limit: %v, requires %v (%s)", v.Name, v.Limit, v.Requested, v.Owner)
}

// QuotaExceededError carries the complete violation list so callers can
// produce a useful error response.
type QuotaExceededError struct {
	Violations []Violation
}

func (e *QuotaExceededError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return "one or more quotas were exceeded: " + strings.Join(parts, "; ")
}

var (
	ErrQuotaNotFound = errors.New("quota_not_found")
	ErrInvalidOwner  = errors.New("invalid_owner")
	ErrInvalidName   = errors.New("invalid_quota_name")
)

// AncestorResolver walks the ownership hierarchy. Implemented by the
// structure package; the quota engine only sees the capability.
type AncestorResolver interface {
	Ancestors(ctx context.Context, owner OwnerRef) ([]OwnerRef, error)
}

type Service interface {
	Get(ctx context.Context, owner OwnerRef, name string) (Quota, error)
	ListByOwner(ctx context.Context, owner OwnerRef) ([]Quota, error)
	SetLimit(ctx context.Context, owner OwnerRef, name string, limit float64) error
	SetUsage(ctx context.Context, owner OwnerRef, name string, usage float64, failSilently bool) error
	AddUsage(ctx context.Context, owner OwnerRef, name string, delta float64, failSilently bool) error
	Validate(ctx context.Context, owner OwnerRef, deltas map[string]float64) ([]Violation, error)
	Enforce(ctx context.Context, owner OwnerRef, deltas map[string]float64) error
	InitQuotas(ctx context.Context, owner OwnerRef, names []string) error
	DropQuotas(ctx context.Context, owner OwnerRef) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, quota *Quota) error
	Find(ctx context.Context, db *gorm.DB, owner OwnerRef, name string) (*Quota, error)
	ListByOwner(ctx context.Context, db *gorm.DB, owner OwnerRef) ([]*Quota, error)
	// LockForUpdate acquires an exclusive row lock inside tx.
	LockForUpdate(ctx context.Context, tx *gorm.DB, owner OwnerRef, name string) (*Quota, error)
	UpdateUsage(ctx context.Context, tx *gorm.DB, id snowflake.ID, usage float64) error
	UpdateLimit(ctx context.Context, db *gorm.DB, owner OwnerRef, name string, limit float64) (bool, error)
	DeleteByOwner(ctx context.Context, db *gorm.DB, owner OwnerRef) error
}
