package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stackfleet/conductor/internal/authorization"
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
)

func parseOwnerRef(rawType, rawID string) (quotadomain.OwnerRef, error) {
	ownerType := quotadomain.OwnerType(strings.TrimSpace(rawType))
	switch ownerType {
	case quotadomain.OwnerCustomer, quotadomain.OwnerProject, quotadomain.OwnerLink:
	default:
		return quotadomain.OwnerRef{}, newValidationError("owner_type", "invalid_owner_type", "invalid owner type")
	}
	ownerID, err := parseOptionalSnowflakeID(rawID)
	if err != nil || ownerID == 0 {
		return quotadomain.OwnerRef{}, newValidationError("owner_id", "invalid_owner_id", "invalid owner id")
	}
	return quotadomain.OwnerRef{Type: ownerType, ID: ownerID}, nil
}

func (s *Server) ListQuotas(c *gin.Context) {
	var query struct {
		OwnerType string `form:"owner_type"`
		OwnerID   string `form:"owner_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	owner, err := parseOwnerRef(query.OwnerType, query.OwnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	customerID, err := s.customerScopeOf(c, owner)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorize(c, customerID, authorization.ObjectQuota, authorization.ActionQuotaView); err != nil {
		AbortWithError(c, err)
		return
	}

	quotas, err := s.quotaSvc.ListByOwner(c.Request.Context(), owner)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"quotas": quotas}})
}

type setQuotaLimitRequest struct {
	Limit float64 `json:"limit"`
}

func (s *Server) SetQuotaLimit(c *gin.Context) {
	owner, err := parseOwnerRef(c.Param("owner_type"), c.Param("owner_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		AbortWithError(c, newValidationError("name", "invalid_quota_name", "invalid quota name"))
		return
	}

	customerID, err := s.customerScopeOf(c, owner)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorize(c, customerID, authorization.ObjectQuota, authorization.ActionQuotaSetLimit); err != nil {
		AbortWithError(c, err)
		return
	}

	var req setQuotaLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.quotaSvc.SetLimit(c.Request.Context(), owner, name, req.Limit); err != nil {
		AbortWithError(c, err)
		return
	}

	quota, err := s.quotaSvc.Get(c.Request.Context(), owner, name)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quota})
}
