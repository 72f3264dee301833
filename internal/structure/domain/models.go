package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Customer is the top of the ownership hierarchy. Everything a tenant
// owns (projects, links, resources, quotas) hangs off a customer.
type Customer struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	UUID           string            `gorm:"not null;uniqueIndex" json:"uuid"`
	Name           string            `gorm:"not null" json:"name"`
	Abbreviation   string            `gorm:"column:abbreviation" json:"abbreviation,omitempty"`
	ContactDetails string            `gorm:"column:contact_details" json:"contact_details,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

// Project groups resources under a customer.
type Project struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	UUID        string       `gorm:"not null;uniqueIndex" json:"uuid"`
	CustomerID  snowflake.ID `gorm:"not null;index" json:"customer_id"`
	Name        string       `gorm:"not null" json:"name"`
	Description string       `gorm:"column:description" json:"description,omitempty"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Project) TableName() string { return "projects" }

// CustomerMember grants a user a role within a customer. The role names
// feed the authorization policies.
type CustomerMember struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID snowflake.ID `gorm:"not null;uniqueIndex:uq_customer_member" json:"customer_id"`
	UserID     snowflake.ID `gorm:"not null;uniqueIndex:uq_customer_member" json:"user_id"`
	Role       string       `gorm:"not null" json:"role"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (CustomerMember) TableName() string { return "customer_members" }

const (
	RoleOwner   = "owner"
	RoleManager = "manager"
	RoleMember  = "member"
)

func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleManager, RoleMember:
		return true
	}
	return false
}
