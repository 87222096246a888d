package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/deemkeen/fedgate/activitypub"
	"github.com/deemkeen/fedgate/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleFollowers(c *gin.Context) {
	identifier := c.Param("actor")
	s.renderCollection(c, identifier, s.Links.Followers(identifier), s.Ledger.FollowersOf)
}

func (s *Server) handleFollowing(c *gin.Context) {
	identifier := c.Param("actor")
	s.renderCollection(c, identifier, s.Links.Following(identifier), s.Ledger.FollowingOf)
}

func (s *Server) renderCollection(c *gin.Context, identifier, id string, members func(context.Context, string) ([]string, error)) {
	ctx := c.Request.Context()

	exists, err := s.Directory.Exists(ctx, identifier)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if !exists {
		s.renderError(c, fmt.Errorf("actor %s: %w", identifier, domain.ErrNotFound))
		return
	}

	uris, err := members(ctx, identifier)
	if err != nil {
		s.renderError(c, err)
		return
	}

	renderActivityJSON(c, http.StatusOK, map[string]interface{}{
		"@context":     activitypub.ContextActivityStreams,
		"id":           id,
		"type":         "OrderedCollection",
		"totalItems":   len(uris),
		"orderedItems": uris,
	})
}
