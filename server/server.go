// Package server exposes the REST API over the ingestion and publishing
// pipeline.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"crossfeed/pkg/dispatch"
	"crossfeed/pkg/domain"
	"crossfeed/pkg/feed"
	"crossfeed/pkg/webhook"
)

// Subscriptions is the server's view of subscription persistence
type Subscriptions interface {
	Create(ctx context.Context, sub *domain.FeedSubscription) error
	Get(ctx context.Context, id int64) (*domain.FeedSubscription, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.FeedSubscription, error)
	Update(ctx context.Context, sub *domain.FeedSubscription) error
	Delete(ctx context.Context, userID string, id int64) error
}

// Contents is the server's view of content persistence
type Contents interface {
	Get(ctx context.Context, id int64) (*domain.InboundContent, error)
	List(ctx context.Context, q domain.ContentQuery) ([]*domain.InboundContent, error)
	Count(ctx context.Context, q domain.ContentQuery) (int, error)
	Update(ctx context.Context, content *domain.InboundContent) error
	UpdateStatus(ctx context.Context, userID string, id int64, status domain.ContentStatus) error
	Delete(ctx context.Context, userID string, id int64) error
}

// Rules is the server's view of rule persistence
type Rules interface {
	Create(ctx context.Context, rule *domain.CrossPostingRule) error
	Get(ctx context.Context, id int64) (*domain.CrossPostingRule, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.CrossPostingRule, error)
	Update(ctx context.Context, rule *domain.CrossPostingRule) error
	Delete(ctx context.Context, userID string, id int64) error
}

// CrossPosts is the server's view of cross-post persistence
type CrossPosts interface {
	List(ctx context.Context, q domain.CrossPostQuery) ([]*domain.CrossPost, error)
	Stats(ctx context.Context, userID string) (*domain.QueueStats, error)
	CancelForContent(ctx context.Context, contentID int64) (int64, error)
}

// Scheduler runs pipeline cycles on demand
type Scheduler interface {
	PollNow(ctx context.Context) (*feed.PollResult, error)
	DispatchNow(ctx context.Context) (*dispatch.Result, error)
}

// Webhooks processes inbound platform webhooks
type Webhooks interface {
	HandleEvent(ctx context.Context, platform, userID, signature string, body []byte) (*webhook.Receipt, error)
	HandleHandshake(platform string, query url.Values) (*webhook.Handshake, error)
}

// Discoverer finds feeds for a website
type Discoverer interface {
	Discover(ctx context.Context, siteURL string) ([]domain.CandidateFeed, error)
}

// Config holds server settings
type Config struct {
	Listen     string
	Timeout    time.Duration
	CronSecret string
	Version    string
	Debug      bool
}

// Server represents HTTP server instance
type Server struct {
	cfg        Config
	subs       Subscriptions
	contents   Contents
	rules      Rules
	crossPosts CrossPosts
	scheduler  Scheduler
	webhooks   Webhooks
	discovery  Discoverer

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// New initializes a new server instance
func New(cfg Config, subs Subscriptions, contents Contents, rules Rules,
	crossPosts CrossPosts, scheduler Scheduler, webhooks Webhooks, discovery Discoverer) *Server {
	s := &Server{
		cfg:        cfg,
		subs:       subs,
		contents:   contents,
		rules:      rules,
		crossPosts: crossPosts,
		scheduler:  scheduler,
		webhooks:   webhooks,
		discovery:  discovery,
		router:     routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	log.Printf("[INFO] starting server on %s", s.cfg.Listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: s.cfg.Timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("crossfeed", "crossfeed", s.cfg.Version))
	s.router.Use(rest.Ping)

	if s.cfg.Debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /status", s.statusHandler)

		// pipeline triggers, guarded by the cron secret
		r.HandleFunc("POST /cron/poll", s.pollTriggerHandler)
		r.HandleFunc("POST /cron/dispatch", s.dispatchTriggerHandler)

		// feed subscriptions
		r.HandleFunc("GET /feeds", s.listFeedsHandler)
		r.HandleFunc("POST /feeds", s.createFeedHandler)
		r.HandleFunc("GET /feeds/{id}", s.getFeedHandler)
		r.HandleFunc("PUT /feeds/{id}", s.updateFeedHandler)
		r.HandleFunc("DELETE /feeds/{id}", s.deleteFeedHandler)
		r.HandleFunc("POST /feeds/discover", s.discoverFeedsHandler)

		// cross-posting rules
		r.HandleFunc("GET /rules", s.listRulesHandler)
		r.HandleFunc("POST /rules", s.createRuleHandler)
		r.HandleFunc("GET /rules/{id}", s.getRuleHandler)
		r.HandleFunc("PUT /rules/{id}", s.updateRuleHandler)
		r.HandleFunc("DELETE /rules/{id}", s.deleteRuleHandler)

		// inbound content
		r.HandleFunc("GET /content", s.listContentHandler)
		r.HandleFunc("GET /content/{id}", s.getContentHandler)
		r.HandleFunc("PATCH /content/{id}", s.updateContentHandler)
		r.HandleFunc("DELETE /content/{id}", s.deleteContentHandler)

		// cross-post jobs
		r.HandleFunc("GET /crossposts", s.listCrossPostsHandler)
		r.HandleFunc("GET /crossposts/stats", s.crossPostStatsHandler)
	})

	// webhook endpoints live outside /api/v1, senders address them directly
	s.router.HandleFunc("POST /webhooks/{platform}", s.webhookEventHandler)
	s.router.HandleFunc("GET /webhooks/{platform}", s.webhookHandshakeHandler)
	s.router.HandleFunc("HEAD /webhooks/{platform}", s.webhookProbeHandler)
	s.router.HandleFunc("OPTIONS /webhooks/{platform}", s.webhookProbeHandler)
}

// statusHandler returns server status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.cfg.Version,
		"time":    time.Now().UTC(),
	}
	RenderJSON(w, r, http.StatusOK, status)
}

// userID extracts the caller identity set by the auth layer in front of us
func userID(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}

// requireUser extracts the caller identity or writes a 401
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := userID(r)
	if uid == "" {
		RenderError(w, r, fmt.Errorf("missing X-User-Id header"), http.StatusUnauthorized)
		return "", false
	}
	return uid, true
}

// RenderJSON sends JSON response
func RenderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// RenderError sends error response as JSON
func RenderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	RenderJSON(w, r, code, map[string]string{"error": errMsg})
}

// renderDomainError maps the error taxonomy onto HTTP statuses
func renderDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindParse:
		code = http.StatusBadRequest
	case domain.KindAuth:
		code = http.StatusUnauthorized
	case domain.KindNotFound:
		code = http.StatusNotFound
	case domain.KindConflict:
		code = http.StatusConflict
	case domain.KindTransient:
		code = http.StatusServiceUnavailable
	case domain.KindPermanent:
		code = http.StatusBadGateway
	}
	RenderError(w, r, err, code)
}
