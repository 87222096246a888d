package web

import (
	"fmt"
	"net/http"

	"github.com/deemkeen/fedgate/activitypub"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleOutbox(c *gin.Context) {
	identifier := c.Param("actor")
	cursor := c.Query("cursor")

	page, err := s.Paginator.Page(c.Request.Context(), identifier, cursor)
	if err != nil {
		s.renderError(c, err)
		return
	}
	renderActivityJSON(c, http.StatusOK, OutboxPage(s.Links, identifier, cursor, page))
}

// OutboxPage renders a page of the outbox as an OrderedCollectionPage.
// Creates carry a likes collection with the count and likers.
func OutboxPage(links activitypub.Links, identifier, cursor string, page *activitypub.Page) map[string]interface{} {
	outboxURL := links.Outbox(identifier)

	items := make([]map[string]interface{}, 0, len(page.Items))
	for i := range page.Items {
		item := &page.Items[i]
		doc := activitypub.RenderActivity(&item.Activity)
		if item.Likes != nil {
			doc["likes"] = map[string]interface{}{
				"type":       "Collection",
				"totalItems": item.Likes.Count,
				"items":      item.Likes.Actors,
			}
		}
		items = append(items, doc)
	}

	doc := map[string]interface{}{
		"@context":     activitypub.ContextActivityStreams,
		"id":           pageURL(outboxURL, activitypub.ParseCursor(cursor)),
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"totalItems":   page.TotalItems,
		"items":        items,
		"orderedItems": items,
		"next":         nil,
		"nextCursor":   nil,
	}
	if page.Next != nil {
		doc["next"] = pageURL(outboxURL, activitypub.ParseCursor(*page.Next))
		doc["nextCursor"] = *page.Next
	}
	return doc
}

func pageURL(collection string, offset int) string {
	return fmt.Sprintf("%s?cursor=%d", collection, offset)
}
