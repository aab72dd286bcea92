// Package api exposes the audit engine over HTTP: project intake, audit
// start and polling, tier-filtered report reads, disclosure actions, and
// finding triage. Handlers never block on audit tasks; they create rows and
// hand execution to the runner.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"

	"github.com/codewatch/codewatch-go/internal/access"
	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/metrics"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/store"
	"github.com/codewatch/codewatch-go/internal/tokens"
)

// GitHub is the slice of the GitHub client the API needs directly.
type GitHub interface {
	GetViewer(ctx context.Context, token string) (*models.Viewer, error)
	EntityType(ctx context.Context, account string) (string, error)
}

// Runner starts and cancels audit tasks.
type Runner interface {
	Start(auditID, apiKey string) error
	Cancel(auditID string) bool
}

// Ownership is the resolver surface the API depends on: tier lookups plus
// the invalidation hook used when a viewer re-authenticates.
type Ownership interface {
	access.Ownership
	Invalidate(ctx context.Context, userID int64) error
}

// Config wires a Server. Counter may be nil, which disables precise
// estimates; Metrics may be nil.
type Config struct {
	Store      store.Store
	GitHub     GitHub
	Gate       *access.Gate
	Disclosure *access.Disclosure
	Ownership  Ownership
	Runner     Runner
	Repos      *gitrepo.Manager
	Accountant *tokens.Accountant
	Counter    tokens.Counter
	ServiceKey string
	Model      string
	Metrics    *metrics.Recorder
}

// Server carries the handler dependencies.
type Server struct {
	store      store.Store
	github     GitHub
	gate       *access.Gate
	disclosure *access.Disclosure
	owners     Ownership
	runner     Runner
	repos      *gitrepo.Manager
	accountant *tokens.Accountant
	counter    tokens.Counter
	serviceKey string
	model      string
	metrics    *metrics.Recorder
	viewers    *gocache.Cache
}

// NewServer builds the API server.
func NewServer(cfg Config) *Server {
	return &Server{
		store:      cfg.Store,
		github:     cfg.GitHub,
		gate:       cfg.Gate,
		disclosure: cfg.Disclosure,
		owners:     cfg.Ownership,
		runner:     cfg.Runner,
		repos:      cfg.Repos,
		accountant: cfg.Accountant,
		counter:    cfg.Counter,
		serviceKey: cfg.ServiceKey,
		model:      cfg.Model,
		metrics:    cfg.Metrics,
		viewers:    gocache.New(viewerCacheTTL, 2*viewerCacheTTL),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.resolveViewer)

		r.Post("/viewer/refresh", s.handleViewerRefresh)

		r.Post("/projects", s.handleCreateProject)
		r.Get("/projects/{projectID}", s.handleGetProject)
		r.Get("/projects/{projectID}/audits", s.handleListProjectAudits)
		r.Get("/projects/{projectID}/estimate", s.handleEstimate)

		r.Post("/audits", s.handleStartAudit)
		r.Get("/audits/{auditID}", s.handleGetAudit)
		r.Post("/audits/{auditID}/cancel", s.handleCancelAudit)
		r.Get("/audits/{auditID}/report", s.handleReport)
		r.Post("/audits/{auditID}/publish", s.handlePublish)
		r.Post("/audits/{auditID}/unpublish", s.handleUnpublish)
		r.Post("/audits/{auditID}/notify-owner", s.handleNotifyOwner)

		r.Patch("/findings/{findingID}/status", s.handleFindingStatus)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
