package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stackfleet/conductor/internal/authorization"
	"github.com/stackfleet/conductor/internal/provisioning"
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
	resourcedomain "github.com/stackfleet/conductor/internal/resource/domain"
	"github.com/stackfleet/conductor/pkg/db/pagination"
	"go.uber.org/zap"
)

type createResourceRequest struct {
	LinkID     string `json:"link_id"`
	Name       string `json:"name"`
	FlavorName string `json:"flavor_name"`
	Cores      int    `json:"cores"`
	RAMMB      int    `json:"ram_mb"`
	DiskMB     int    `json:"disk_mb"`
}

func (s *Server) CreateResource(c *gin.Context) {
	var req createResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	linkID, err := parseOptionalSnowflakeID(req.LinkID)
	if err != nil || linkID == 0 {
		AbortWithError(c, newValidationError("link_id", "invalid_link_id", "invalid link id"))
		return
	}

	if err := s.authorizeResourceOwner(c, linkID, authorization.ActionResourceProvision); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.resourceSvc.CreateResource(c.Request.Context(), resourcedomain.CreateResourceRequest{
		LinkID:     linkID,
		Name:       strings.TrimSpace(req.Name),
		FlavorName: strings.TrimSpace(req.FlavorName),
		Cores:      req.Cores,
		RAMMB:      req.RAMMB,
		DiskMB:     req.DiskMB,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListResources(c *gin.Context) {
	var query struct {
		pagination.Pagination
		LinkID string `form:"link_id"`
		State  string `form:"state"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	linkID, err := parseOptionalSnowflakeID(query.LinkID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	state := resourcedomain.State(strings.TrimSpace(query.State))
	if state != "" && !state.Valid() {
		AbortWithError(c, newValidationError("state", "invalid_state", "invalid state"))
		return
	}

	if linkID == 0 {
		if !s.isSystemActor(c) {
			AbortWithError(c, authorization.ErrForbidden)
			return
		}
	} else if err := s.authorizeResourceOwner(c, linkID, authorization.ActionResourceView); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.resourceSvc.ListResources(c.Request.Context(), resourcedomain.ListResourcesRequest{
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
		LinkID:    linkID,
		State:     state,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetResourceByID(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.resourceSvc.GetResource(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeResourceOwner(c, resp.LinkID, authorization.ActionResourceView); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ProvisionResource(c *gin.Context) {
	s.scheduleResourceOp(c, provisioning.OpProvision, authorization.ActionResourceProvision)
}

func (s *Server) StartResource(c *gin.Context) {
	s.scheduleResourceOp(c, provisioning.OpStart, authorization.ActionResourceStart)
}

func (s *Server) StopResource(c *gin.Context) {
	s.scheduleResourceOp(c, provisioning.OpStop, authorization.ActionResourceStop)
}

func (s *Server) RestartResource(c *gin.Context) {
	s.scheduleResourceOp(c, provisioning.OpRestart, authorization.ActionResourceRestart)
}

func (s *Server) DestroyResource(c *gin.Context) {
	s.scheduleResourceOp(c, provisioning.OpDestroy, authorization.ActionResourceDestroy)
}

// scheduleResourceOp authorizes the action against the owning customer,
// applies the per-customer provision rate limit, and hands the operation
// to the orchestrator. The state claim happens before this returns.
func (s *Server) scheduleResourceOp(c *gin.Context, op provisioning.Op, action string) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.resourceSvc.GetResource(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	customerID, err := s.customerScopeOf(c, quotadomain.OwnerRef{Type: quotadomain.OwnerLink, ID: res.LinkID})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorize(c, customerID, authorization.ObjectResource, action); err != nil {
		AbortWithError(c, err)
		return
	}

	if op == provisioning.OpProvision && s.provisionLimiter.Enabled() {
		allowed, err := s.provisionLimiter.AllowCustomer(c.Request.Context(), customerID.String())
		if err != nil {
			s.log.Warn("provision rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !allowed {
			c.Header("Retry-After", "1")
			AbortWithError(c, ErrRateLimited)
			return
		}
	}

	if err := s.orchestrator.Schedule(c.Request.Context(), op, id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}

func (s *Server) authorizeResourceOwner(c *gin.Context, linkID snowflake.ID, action string) error {
	customerID, err := s.customerScopeOf(c, quotadomain.OwnerRef{Type: quotadomain.OwnerLink, ID: linkID})
	if err != nil {
		return err
	}
	return s.authorize(c, customerID, authorization.ObjectResource, action)
}
