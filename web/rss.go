package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/fedgate/domain"
	"github.com/deemkeen/fedgate/util"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
)

// maxFeedItems bounds the number of notes in a feed.
const maxFeedItems = 50

func (s *Server) handleFeed(c *gin.Context) {
	rss, err := s.GetRSS(c.Request.Context(), c.Param("actor"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.String(http.StatusOK, rss)
}

// GetRSS renders the notes an actor created as an RSS feed, newest first.
func (s *Server) GetRSS(ctx context.Context, identifier string) (string, error) {
	actor, err := s.Directory.GetActor(ctx, identifier)
	if err != nil {
		return "", err
	}
	activities, err := s.Ledger.ActivitiesForActor(ctx, identifier)
	if err != nil {
		return "", err
	}

	actorURI := s.Links.Actor(identifier)
	email := fmt.Sprintf("%s@%s", identifier, s.Conf.Conf.SslDomain)

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - %s", util.Name, actor.Name()),
		Link:        &feeds.Link{Href: actorURI},
		Description: fmt.Sprintf("Notes by %s", actor.Name()),
		Author:      &feeds.Author{Name: actor.Name(), Email: email},
		Created:     actor.CreatedAt,
	}

	for _, a := range activities {
		if a.Type != domain.TypeCreate || a.ActorURI != actorURI {
			continue
		}
		content, _ := a.Object["content"].(string)
		feed.Items = append(feed.Items, &feeds.Item{
			Id:      a.ObjectURI,
			Title:   a.PublishedAt.Format(util.DateTimeFormat()),
			Link:    &feeds.Link{Href: a.ObjectURI},
			Content: util.MarkdownLinksToHTML(content),
			Author:  &feeds.Author{Name: actor.Name(), Email: email},
			Created: a.PublishedAt,
		})
		if len(feed.Items) == maxFeedItems {
			break
		}
	}
	if len(feed.Items) > 0 {
		feed.Updated = feed.Items[0].Created
	} else {
		feed.Updated = time.Now()
	}

	return feed.ToRss()
}
