package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stackfleet/conductor/internal/authorization"
	eventlogdomain "github.com/stackfleet/conductor/internal/eventlog/domain"
	"github.com/stackfleet/conductor/pkg/db/pagination"
)

func (s *Server) ListEvents(c *gin.Context) {
	var query struct {
		pagination.Pagination
		EventType string `form:"event_type"`
		ScopeType string `form:"scope_type"`
		ScopeID   string `form:"scope_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	scopeType := strings.TrimSpace(query.ScopeType)
	scopeID, err := parseOptionalSnowflakeID(query.ScopeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// events scoped to an owner are visible to that owner's customer;
	// the unscoped firehose is for the system actor
	if scopeType == "" || scopeID == 0 {
		if !s.isSystemActor(c) {
			AbortWithError(c, authorization.ErrForbidden)
			return
		}
	} else {
		owner, err := parseOwnerRef(scopeType, query.ScopeID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		customerID, err := s.customerScopeOf(c, owner)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if err := s.authorize(c, customerID, authorization.ObjectEvent, authorization.ActionEventView); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	resp, err := s.eventSvc.List(c.Request.Context(), eventlogdomain.ListRequest{
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
		EventType: strings.TrimSpace(query.EventType),
		ScopeType: scopeType,
		ScopeID:   scopeID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
