package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stackfleet/conductor/internal/authorization"
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
	structuredomain "github.com/stackfleet/conductor/internal/structure/domain"
	"github.com/stackfleet/conductor/pkg/db/pagination"
)

type createProjectRequest struct {
	CustomerID  string `json:"customer_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) CreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	customerID, err := parseOptionalSnowflakeID(req.CustomerID)
	if err != nil || customerID == 0 {
		AbortWithError(c, newValidationError("customer_id", "invalid_customer_id", "invalid customer id"))
		return
	}

	if err := s.authorize(c, customerID, authorization.ObjectProject, authorization.ActionProjectCreate); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.structureSvc.CreateProject(c.Request.Context(), structuredomain.CreateProjectRequest{
		CustomerID:  customerID,
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListProjects(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CustomerID string `form:"customer_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, err := parseOptionalSnowflakeID(query.CustomerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// listing without a customer filter crosses tenants, so only the
	// system actor may do it
	if customerID == 0 {
		if !s.isSystemActor(c) {
			AbortWithError(c, authorization.ErrForbidden)
			return
		}
	} else if err := s.authorize(c, customerID, authorization.ObjectProject, authorization.ActionProjectView); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.structureSvc.ListProjects(c.Request.Context(), structuredomain.ListProjectsRequest{
		PageToken:  query.PageToken,
		PageSize:   query.PageSize,
		CustomerID: customerID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetProjectByID(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeProject(c, id, authorization.ActionProjectView); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.structureSvc.GetProject(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteProject(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeProject(c, id, authorization.ActionProjectDelete); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.structureSvc.DeleteProject(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) authorizeProject(c *gin.Context, projectID snowflake.ID, action string) error {
	customerID, err := s.customerScopeOf(c, quotadomain.OwnerRef{Type: quotadomain.OwnerProject, ID: projectID})
	if err != nil {
		return err
	}
	return s.authorize(c, customerID, authorization.ObjectProject, action)
}
