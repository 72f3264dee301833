package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stackfleet/conductor/internal/authorization"
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
	resourcedomain "github.com/stackfleet/conductor/internal/resource/domain"
	"github.com/stackfleet/conductor/pkg/db/pagination"
)

type createLinkRequest struct {
	ProjectID  string `json:"project_id"`
	BackendURL string `json:"backend_url"`
}

func (s *Server) CreateLink(c *gin.Context) {
	var req createLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	projectID, err := parseOptionalSnowflakeID(req.ProjectID)
	if err != nil || projectID == 0 {
		AbortWithError(c, newValidationError("project_id", "invalid_project_id", "invalid project id"))
		return
	}

	customerID, err := s.customerScopeOf(c, quotadomain.OwnerRef{Type: quotadomain.OwnerProject, ID: projectID})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorize(c, customerID, authorization.ObjectLink, authorization.ActionLinkCreate); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.resourceSvc.CreateLink(c.Request.Context(), resourcedomain.CreateLinkRequest{
		ProjectID:  projectID,
		BackendURL: strings.TrimSpace(req.BackendURL),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListLinks(c *gin.Context) {
	var query struct {
		pagination.Pagination
		ProjectID string `form:"project_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	projectID, err := parseOptionalSnowflakeID(query.ProjectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if projectID == 0 {
		if !s.isSystemActor(c) {
			AbortWithError(c, authorization.ErrForbidden)
			return
		}
	} else {
		customerID, err := s.customerScopeOf(c, quotadomain.OwnerRef{Type: quotadomain.OwnerProject, ID: projectID})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if err := s.authorize(c, customerID, authorization.ObjectLink, authorization.ActionLinkView); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	resp, err := s.resourceSvc.ListLinks(c.Request.Context(), resourcedomain.ListLinksRequest{
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
		ProjectID: projectID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetLinkByID(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeLink(c, id, authorization.ActionLinkView); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.resourceSvc.GetLink(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteLink(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeLink(c, id, authorization.ActionLinkDelete); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.resourceSvc.DeleteLink(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) authorizeLink(c *gin.Context, linkID snowflake.ID, action string) error {
	customerID, err := s.customerScopeOf(c, quotadomain.OwnerRef{Type: quotadomain.OwnerLink, ID: linkID})
	if err != nil {
		return err
	}
	return s.authorize(c, customerID, authorization.ObjectLink, action)
}
