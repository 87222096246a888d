package web

import (
	"errors"
	"log"
	"net/http"

	"github.com/deemkeen/fedgate/domain"
	"github.com/gin-gonic/gin"
)

// StatusFor maps an error to the HTTP status it is answered with.
// Rate limited reads look like missing resources.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrRateLimited):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidActivity):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) renderError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("HTTP: %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}

	body := gin.H{"detail": http.StatusText(status)}
	if s.Conf.Conf.Debug && !errors.Is(err, domain.ErrRateLimited) {
		body["error"] = err.Error()
	}
	c.JSON(status, body)
}
