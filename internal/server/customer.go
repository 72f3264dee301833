package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stackfleet/conductor/internal/authorization"
	structuredomain "github.com/stackfleet/conductor/internal/structure/domain"
	"github.com/stackfleet/conductor/pkg/db/pagination"
)

type createCustomerRequest struct {
	Name           string `json:"name"`
	Abbreviation   string `json:"abbreviation"`
	ContactDetails string `json:"contact_details"`
}

func (s *Server) CreateCustomer(c *gin.Context) {
	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.structureSvc.CreateCustomer(c.Request.Context(), structuredomain.CreateCustomerRequest{
		Name:           strings.TrimSpace(req.Name),
		Abbreviation:   strings.TrimSpace(req.Abbreviation),
		ContactDetails: strings.TrimSpace(req.ContactDetails),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// the creating user owns the new customer; system actors stay outside
	// the membership table
	if actor := s.actorFrom(c); strings.HasPrefix(actor, "user:") {
		userID, parseErr := parseOptionalSnowflakeID(strings.TrimPrefix(actor, "user:"))
		if parseErr == nil && userID != 0 {
			if _, memberErr := s.structureSvc.AddMember(c.Request.Context(), structuredomain.AddMemberRequest{
				CustomerID: resp.ID,
				UserID:     userID,
				Role:       structuredomain.RoleOwner,
			}); memberErr != nil {
				AbortWithError(c, memberErr)
				return
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListCustomers(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Name string `form:"name"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.structureSvc.ListCustomers(c.Request.Context(), structuredomain.ListCustomersRequest{
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
		Name:      strings.TrimSpace(query.Name),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCustomerByID(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorize(c, id, authorization.ObjectCustomer, authorization.ActionCustomerView); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.structureSvc.GetCustomer(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteCustomer(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorize(c, id, authorization.ObjectCustomer, authorization.ActionCustomerDelete); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.structureSvc.DeleteCustomer(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (s *Server) AddCustomerMember(c *gin.Context) {
	customerID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorize(c, customerID, authorization.ObjectCustomer, authorization.ActionCustomerManageMembers); err != nil {
		AbortWithError(c, err)
		return
	}

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, err := parseOptionalSnowflakeID(req.UserID)
	if err != nil || userID == 0 {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}

	resp, err := s.structureSvc.AddMember(c.Request.Context(), structuredomain.AddMemberRequest{
		CustomerID: customerID,
		UserID:     userID,
		Role:       strings.TrimSpace(req.Role),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
