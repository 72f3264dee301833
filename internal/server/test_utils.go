package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type testCleanupRequest struct {
	Prefix string `json:"prefix"`
}

// TestCleanup wipes customers created by integration suites, matched by
// name prefix. Never registered in production.
func (s *Server) TestCleanup(c *gin.Context) {
	if s.cfg.Environment == "production" {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req testCleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	prefix := strings.TrimSpace(req.Prefix)
	if prefix == "" {
		AbortWithError(c, newValidationError("prefix", "required", "prefix is required"))
		return
	}

	ctx := c.Request.Context()
	like := prefix + "%"

	var customerIDs []int64
	if err := s.db.WithContext(ctx).
		Table("customers").
		Select("id").
		Where("name LIKE ?", like).
		Scan(&customerIDs).Error; err != nil {
		AbortWithError(c, err)
		return
	}
	if len(customerIDs) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	var projectIDs []int64
	if err := s.db.WithContext(ctx).
		Table("projects").
		Select("id").
		Where("customer_id IN ?", customerIDs).
		Scan(&projectIDs).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	var linkIDs []int64
	if len(projectIDs) > 0 {
		if err := s.db.WithContext(ctx).
			Table("service_project_links").
			Select("id").
			Where("project_id IN ?", projectIDs).
			Scan(&linkIDs).Error; err != nil {
			AbortWithError(c, err)
			return
		}
	}

	if len(linkIDs) > 0 {
		if err := s.db.WithContext(ctx).Exec(
			`DELETE FROM resources WHERE link_id IN ?`, linkIDs,
		).Error; err != nil {
			AbortWithError(c, err)
			return
		}
		if err := s.db.WithContext(ctx).Exec(
			`DELETE FROM quotas WHERE owner_type = 'project_link' AND owner_id IN ?`, linkIDs,
		).Error; err != nil {
			AbortWithError(c, err)
			return
		}
		if err := s.db.WithContext(ctx).Exec(
			`DELETE FROM service_project_links WHERE id IN ?`, linkIDs,
		).Error; err != nil {
			AbortWithError(c, err)
			return
		}
	}

	if len(projectIDs) > 0 {
		if err := s.db.WithContext(ctx).Exec(
			`DELETE FROM quotas WHERE owner_type = 'project' AND owner_id IN ?`, projectIDs,
		).Error; err != nil {
			AbortWithError(c, err)
			return
		}
		if err := s.db.WithContext(ctx).Exec(
			`DELETE FROM projects WHERE id IN ?`, projectIDs,
		).Error; err != nil {
			AbortWithError(c, err)
			return
		}
	}

	if err := s.db.WithContext(ctx).Exec(
		`DELETE FROM quotas WHERE owner_type = 'customer' AND owner_id IN ?`, customerIDs,
	).Error; err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.db.WithContext(ctx).Exec(
		`DELETE FROM customer_members WHERE customer_id IN ?`, customerIDs,
	).Error; err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.db.WithContext(ctx).Exec(
		`DELETE FROM customers WHERE id IN ?`, customerIDs,
	).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
