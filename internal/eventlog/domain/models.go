package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stackfleet/conductor/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is an append-only record of something that happened to a scoped
// entity: a state transition, a quota alert, a lifecycle change.
type Event struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	EventType string            `gorm:"column:event_type;not null;index" json:"event_type"`
	ScopeType string            `gorm:"not null" json:"scope_type"`
	ScopeID   snowflake.ID      `gorm:"not null" json:"scope_id"`
	Message   string            `gorm:"not null" json:"message"`
	Context   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"context,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

const (
	EventCustomerCreated        = "customer_created"
	EventCustomerDeleted        = "customer_deleted"
	EventProjectCreated         = "project_created"
	EventProjectDeleted         = "project_deleted"
	EventResourceStateChanged   = "resource_state_changed"
	EventLinkStateChanged       = "link_state_changed"
	EventLinkSyncFailed         = "link_sync_failed"
	EventQuotaLimitChanged      = "quota_limit_changed"
	EventQuotaThresholdBreached = "quota_threshold_breached"
	EventQuotaExceededRejection = "quota_exceeded_rejection"
)

// Entry is what producers hand to the recorder.
type Entry struct {
	Type      string
	ScopeType string
	ScopeID   snowflake.ID
	Message   string
	Context   map[string]any
}

// Recorder is the write side exposed to the rest of the application.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

type ListRequest struct {
	PageToken string
	PageSize  int
	EventType string
	ScopeType string
	ScopeID   snowflake.ID
}

type ListFilter struct {
	EventType string
	ScopeType string
	ScopeID   snowflake.ID
}

type ListResponse struct {
	pagination.PageInfo
	Events []Event `json:"events"`
}

type Service interface {
	Recorder
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*Event, error)
}

var ErrUnknownEventType = errors.New("unknown_event_type")
