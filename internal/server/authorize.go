package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	quotadomain "github.com/stackfleet/conductor/internal/quota/domain"
	structuredomain "github.com/stackfleet/conductor/internal/structure/domain"
)

const contextActorKey = "actor"

// ActorRequired pulls the caller identity from the X-Actor header.
// Accepted forms are "system" and "user:<id>"; anything else is
// rejected before a handler runs.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader("X-Actor"))
		if actor == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if actor != "system" && !strings.HasPrefix(actor, "user:") {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Set(contextActorKey, actor)
		c.Next()
	}
}

func (s *Server) actorFrom(c *gin.Context) string {
	return c.GetString(contextActorKey)
}

func (s *Server) isSystemActor(c *gin.Context) bool {
	return s.actorFrom(c) == "system"
}

// authorize checks the actor against the customer that ultimately owns
// the touched entity. Roles live at the customer level, so every check
// resolves up the hierarchy first.
func (s *Server) authorize(c *gin.Context, customerID snowflake.ID, object string, action string) error {
	actor := s.actorFrom(c)
	if actor == "" {
		return ErrUnauthorized
	}
	return s.authzSvc.Authorize(c.Request.Context(), actor, customerID.String(), object, action)
}

// customerScopeOf walks owner up to its customer. A dangling owner
// (deleted parent) comes back as not found rather than a zero scope.
func (s *Server) customerScopeOf(c *gin.Context, owner quotadomain.OwnerRef) (snowflake.ID, error) {
	if owner.Type == quotadomain.OwnerCustomer {
		return owner.ID, nil
	}
	ancestors, err := s.resolver.Ancestors(c.Request.Context(), owner)
	if err != nil {
		return 0, err
	}
	for _, ancestor := range ancestors {
		if ancestor.Type == quotadomain.OwnerCustomer {
			return ancestor.ID, nil
		}
	}
	return 0, structuredomain.ErrNotFound
}
