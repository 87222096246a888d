package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/deemkeen/fedgate/activitypub"
	"github.com/deemkeen/fedgate/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleWebfinger(c *gin.Context) {
	jrd, err := s.GetWebfinger(c.Request.Context(), c.Query("resource"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	c.JSON(http.StatusOK, jrd)
}

// GetWebfinger resolves "acct:user@domain" or a local actor URI to a JRD.
// Accounts of other domains are not found.
func (s *Server) GetWebfinger(ctx context.Context, resource string) (map[string]interface{}, error) {
	identifier, ok := s.parseResource(resource)
	if !ok {
		return nil, fmt.Errorf("resource %q: %w", resource, domain.ErrNotFound)
	}

	exists, err := s.Directory.Exists(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("account %s: %w", identifier, domain.ErrNotFound)
	}

	actorURI := s.Links.Actor(identifier)
	return map[string]interface{}{
		"subject": fmt.Sprintf("acct:%s@%s", identifier, s.Conf.Conf.SslDomain),
		"aliases": []string{actorURI},
		"links": []map[string]string{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": actorURI,
			},
		},
	}, nil
}

func (s *Server) parseResource(resource string) (string, bool) {
	if acct, ok := strings.CutPrefix(resource, "acct:"); ok {
		at := strings.LastIndex(acct, "@")
		if at < 0 {
			return "", false
		}
		user, host := acct[:at], acct[at+1:]
		if !strings.EqualFold(host, s.Conf.Conf.SslDomain) {
			return "", false
		}
		user = strings.ToLower(user)
		return user, activitypub.ValidIdentifier(user)
	}
	if strings.HasPrefix(resource, s.Links.Base()+"/") {
		return s.Links.LocalActor(resource)
	}
	return "", false
}
