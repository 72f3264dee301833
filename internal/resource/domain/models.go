package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ServiceProjectLink connects a project to one infrastructure backend.
// Resources are provisioned through a link; its state tracks whether
// backend-side prerequisites are in place.
type ServiceProjectLink struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	UUID         string       `gorm:"not null;uniqueIndex" json:"uuid"`
	ProjectID    snowflake.ID `gorm:"not null;index" json:"project_id"`
	BackendURL   string       `gorm:"column:backend_url;not null" json:"backend_url"`
	State        LinkState    `gorm:"not null;default:'new'" json:"state"`
	ErrorMessage string       `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (ServiceProjectLink) TableName() string { return "service_project_links" }

// Resource is a virtual machine owned by a link.
type Resource struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	UUID         string            `gorm:"not null;uniqueIndex" json:"uuid"`
	LinkID       snowflake.ID      `gorm:"column:link_id;not null;index" json:"link_id"`
	Name         string            `gorm:"not null" json:"name"`
	FlavorName   string            `gorm:"column:flavor_name" json:"flavor_name,omitempty"`
	Cores        int               `gorm:"not null" json:"cores"`
	RAMMB        int               `gorm:"column:ram_mb;not null" json:"ram_mb"`
	DiskMB       int               `gorm:"column:disk_mb;not null" json:"disk_mb"`
	State        State             `gorm:"not null;default:'provisioning_scheduled'" json:"state"`
	BackendID    string            `gorm:"column:backend_id" json:"backend_id,omitempty"`
	ErrorMessage string            `gorm:"column:error_message" json:"error_message,omitempty"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Resource) TableName() string { return "resources" }

const maxErrorMessageLen = 500

// SanitizeErrorMessage flattens and truncates a backend error so it fits
// the error_message column and stays single-line in logs and responses.
func SanitizeErrorMessage(message string) string {
	message = strings.Join(strings.Fields(message), " ")
	if len(message) > maxErrorMessageLen {
		message = message[:maxErrorMessageLen]
	}
	return message
}
