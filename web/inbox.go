package web

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleInbox serves both the shared and the per-actor inboxes: routing
// follows the activity's addressing, not the path. Every delivery that
// passes signature checks is acknowledged with 202, whether or not it was
// applied; a peer cannot fix a rejected activity by retrying it.
func (s *Server) handleInbox(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		log.Printf("Inbox: Failed to read body: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	signer := ""
	if s.Conf.Conf.VerifySignatures {
		signer, err = s.Verifier.Verify(c.Request.Context(), c.Request, body)
		if err != nil {
			log.Printf("Inbox: Rejected delivery to %s: %v", c.Request.URL.Path, err)
			s.renderError(c, err)
			return
		}
	}

	// Errors are logged by the processor; the delivery is acknowledged
	// either way.
	s.Processor.HandleBody(c.Request.Context(), body, signer)
	c.Status(http.StatusAccepted)
}
