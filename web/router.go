package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/fedgate/activitypub"
	"github.com/deemkeen/fedgate/ratelimit"
	"github.com/deemkeen/fedgate/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	activityJSON = "application/activity+json; charset=utf-8"
	maxInboxBody = 1 << 20
)

// SignatureVerifier authenticates inbound deliveries and returns the
// signing actor.
type SignatureVerifier interface {
	Verify(ctx context.Context, req *http.Request, body []byte) (string, error)
}

// WindowLimiter is the fixed-window limiter guarding the read endpoints.
type WindowLimiter interface {
	Check(ctx context.Context, operation, client string, limit int, window time.Duration) (ratelimit.Result, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Server holds everything the HTTP handlers need.
type Server struct {
	Conf      *util.AppConfig
	Links     activitypub.Links
	Directory *activitypub.Directory
	Ledger    *activitypub.Ledger
	Paginator *activitypub.Paginator
	Processor *activitypub.Processor
	Verifier  SignatureVerifier
	Limiter   WindowLimiter
	Checks    map[string]HealthCheck
}

// NewRouter builds the gin engine with every route of the gateway.
func NewRouter(s *Server) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	inboxLimiter := NewRateLimiter(rate.Limit(s.Conf.Conf.InboxRate), s.Conf.Conf.InboxBurst)
	maxBodySize := MaxBytesMiddleware(maxInboxBody)

	g.GET("/healthz", s.handleHealth)
	g.GET("/.well-known/webfinger", s.handleWebfinger)

	g.GET("/users/:actor", FixedWindowMiddleware(s, "actor"), s.handleActor)
	g.GET("/users/:actor/outbox", FixedWindowMiddleware(s, "outbox"), s.handleOutbox)
	g.GET("/users/:actor/followers", s.handleFollowers)
	g.GET("/users/:actor/following", s.handleFollowing)
	g.GET("/users/:actor/feed", s.handleFeed)

	g.POST("/inbox", RateLimitMiddleware(inboxLimiter), maxBodySize, s.handleInbox)
	g.POST("/users/:actor/inbox", RateLimitMiddleware(inboxLimiter), maxBodySize, s.handleInbox)

	return g
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func Serve(ctx context.Context, s *Server) error {
	addr := fmt.Sprintf("%s:%d", s.Conf.Conf.Host, s.Conf.Conf.HttpPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{}
	healthy := true
	for name, check := range s.Checks {
		if err := check(c.Request.Context()); err != nil {
			log.Printf("Health: %s unavailable: %v", name, err)
			status[name] = "unavailable"
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}
