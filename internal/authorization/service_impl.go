package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectCustomer = "customer"
	ObjectProject  = "project"
	ObjectLink     = "link"
	ObjectResource = "resource"
	ObjectQuota    = "quota"
	ObjectEvent    = "event"
)

const (
	ActionCustomerView          = "customer.view"
	ActionCustomerCreate        = "customer.create"
	ActionCustomerDelete        = "customer.delete"
	ActionCustomerManageMembers = "customer.manage_members"

	ActionProjectView   = "project.view"
	ActionProjectCreate = "project.create"
	ActionProjectDelete = "project.delete"

	ActionLinkView   = "link.view"
	ActionLinkCreate = "link.create"
	ActionLinkDelete = "link.delete"

	ActionResourceView      = "resource.view"
	ActionResourceProvision = "resource.provision"
	ActionResourceStart     = "resource.start"
	ActionResourceStop      = "resource.stop"
	ActionResourceRestart   = "resource.restart"
	ActionResourceDestroy   = "resource.destroy"

	ActionQuotaView     = "quota.view"
	ActionQuotaSetLimit = "quota.set_limit"

	ActionEventView = "event.view"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, customerID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return ErrInvalidCustomer
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor, customerID)
	if err != nil {
		return err
	}

	domain := fmt.Sprintf("customer:%s", customerID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("actor", actor),
			zap.String("customer_id", customerID),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, customerID string) (string, string, error) {
	if actor == "system" {
		return actor, "role:system", nil
	}
	if strings.HasPrefix(actor, "user:") {
		userIDRaw := strings.TrimPrefix(actor, "user:")
		userID, err := snowflake.ParseString(userIDRaw)
		if err != nil || userID == 0 {
			return "", "", ErrInvalidActor
		}
		parsedCustomerID, err := snowflake.ParseString(customerID)
		if err != nil || parsedCustomerID == 0 {
			return "", "", ErrInvalidCustomer
		}
		role, err := s.roleForUser(ctx, parsedCustomerID, userID)
		if err != nil {
			return "", "", err
		}
		return actor, fmt.Sprintf("role:%s", strings.ToLower(role)), nil
	}
	return "", "", ErrInvalidActor
}

func (s *ServiceImpl) roleForUser(ctx context.Context, customerID snowflake.ID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM customer_members
		 WHERE customer_id = ? AND user_id = ?
		 LIMIT 1`,
		customerID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// members see everything in their customer, touch nothing
		{"role:member", ObjectCustomer, ActionCustomerView},
		{"role:member", ObjectProject, ActionProjectView},
		{"role:member", ObjectLink, ActionLinkView},
		{"role:member", ObjectResource, ActionResourceView},
		{"role:member", ObjectQuota, ActionQuotaView},
		{"role:member", ObjectEvent, ActionEventView},

		// managers run the resource lifecycle
		{"role:manager", ObjectCustomer, ActionCustomerView},
		{"role:manager", ObjectProject, ActionProjectView},
		{"role:manager", ObjectProject, ActionProjectCreate},
		{"role:manager", ObjectLink, ActionLinkView},
		{"role:manager", ObjectLink, ActionLinkCreate},
		{"role:manager", ObjectResource, ActionResourceView},
		{"role:manager", ObjectResource, ActionResourceProvision},
		{"role:manager", ObjectResource, ActionResourceStart},
		{"role:manager", ObjectResource, ActionResourceStop},
		{"role:manager", ObjectResource, ActionResourceRestart},
		{"role:manager", ObjectResource, ActionResourceDestroy},
		{"role:manager", ObjectQuota, ActionQuotaView},
		{"role:manager", ObjectEvent, ActionEventView},

		// owners additionally reshape the hierarchy and tune limits
		{"role:owner", ObjectCustomer, ActionCustomerView},
		{"role:owner", ObjectCustomer, ActionCustomerDelete},
		{"role:owner", ObjectCustomer, ActionCustomerManageMembers},
		{"role:owner", ObjectProject, ActionProjectView},
		{"role:owner", ObjectProject, ActionProjectCreate},
		{"role:owner", ObjectProject, ActionProjectDelete},
		{"role:owner", ObjectLink, ActionLinkView},
		{"role:owner", ObjectLink, ActionLinkCreate},
		{"role:owner", ObjectLink, ActionLinkDelete},
		{"role:owner", ObjectResource, ActionResourceView},
		{"role:owner", ObjectResource, ActionResourceProvision},
		{"role:owner", ObjectResource, ActionResourceStart},
		{"role:owner", ObjectResource, ActionResourceStop},
		{"role:owner", ObjectResource, ActionResourceRestart},
		{"role:owner", ObjectResource, ActionResourceDestroy},
		{"role:owner", ObjectQuota, ActionQuotaView},
		{"role:owner", ObjectQuota, ActionQuotaSetLimit},
		{"role:owner", ObjectEvent, ActionEventView},

		// the system subject is for automation and staff tooling
		{"role:system", ObjectCustomer, ActionCustomerView},
		{"role:system", ObjectCustomer, ActionCustomerCreate},
		{"role:system", ObjectCustomer, ActionCustomerDelete},
		{"role:system", ObjectCustomer, ActionCustomerManageMembers},
		{"role:system", ObjectProject, ActionProjectView},
		{"role:system", ObjectProject, ActionProjectCreate},
		{"role:system", ObjectProject, ActionProjectDelete},
		{"role:system", ObjectLink, ActionLinkView},
		{"role:system", ObjectLink, ActionLinkCreate},
		{"role:system", ObjectLink, ActionLinkDelete},
		{"role:system", ObjectResource, ActionResourceView},
		{"role:system", ObjectResource, ActionResourceProvision},
		{"role:system", ObjectResource, ActionResourceStart},
		{"role:system", ObjectResource, ActionResourceStop},
		{"role:system", ObjectResource, ActionResourceRestart},
		{"role:system", ObjectResource, ActionResourceDestroy},
		{"role:system", ObjectQuota, ActionQuotaView},
		{"role:system", ObjectQuota, ActionQuotaSetLimit},
		{"role:system", ObjectEvent, ActionEventView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
