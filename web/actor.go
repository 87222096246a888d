package web

import (
	"net/http"
	"time"

	"github.com/deemkeen/fedgate/activitypub"
	"github.com/deemkeen/fedgate/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleActor(c *gin.Context) {
	ctx := c.Request.Context()
	actor, err := s.Directory.GetActor(ctx, c.Param("actor"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	// Keys are generated on first use; peers need one to verify us.
	if !actor.HasKeys() {
		kp, err := s.Directory.GetOrGenerateKeyPair(ctx, actor.Identifier)
		if err != nil {
			s.renderError(c, err)
			return
		}
		actor.PublicKey = kp.PublicKeyPem
	}

	renderActivityJSON(c, http.StatusOK, ActorDocument(s.Links, actor))
}

// ActorDocument renders a local actor as an ActivityPub Person.
func ActorDocument(links activitypub.Links, actor *domain.Actor) map[string]interface{} {
	uri := links.Actor(actor.Identifier)
	doc := map[string]interface{}{
		"@context": []string{
			activitypub.ContextActivityStreams,
			"https://w3id.org/security/v1",
		},
		"id":                        uri,
		"type":                      "Person",
		"preferredUsername":         actor.Identifier,
		"name":                      actor.Name(),
		"summary":                   actor.Summary,
		"inbox":                     actor.InboxURI,
		"outbox":                    actor.OutboxURI,
		"followers":                 actor.FollowersURI,
		"following":                 actor.FollowingURI,
		"url":                       uri,
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"published":                 actor.CreatedAt.UTC().Format(time.RFC3339),
		"endpoints": map[string]string{
			"sharedInbox": links.SharedInbox(),
		},
	}
	if actor.HasKeys() {
		doc["publicKey"] = map[string]string{
			"id":           links.KeyID(actor.Identifier),
			"owner":        uri,
			"publicKeyPem": actor.PublicKey,
		}
	}
	return doc
}

func renderActivityJSON(c *gin.Context, status int, doc interface{}) {
	c.Header("Content-Type", activityJSON)
	c.JSON(status, doc)
}
