// Package http serves the review and audit JSON API.
package http

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/ledger"
	"github.com/houfu/lavender-ledger/internal/log"
	"github.com/houfu/lavender-ledger/internal/services"
	"github.com/houfu/lavender-ledger/internal/storage"
)

// DecisionPublisher queues review decisions for the worker.
type DecisionPublisher interface {
	PublishReviewDecision(ctx context.Context, d core.ReviewDecision) error
}

// Options wires the server. Decisions is optional: without it review
// decisions are applied inline.
type Options struct {
	Addr              string
	Repo              *storage.SQLiteRepository
	Ledger            *ledger.Ledger
	Learning          *services.LearningService
	Decisions         DecisionPublisher
	Policy            core.Policy
	Logger            *log.Logger
	RequestsPerMinute int

	// AllowedOrigins enables CORS for browser review tools. Empty disables it.
	AllowedOrigins []string
}

type Server struct {
	http.Server
	repo        *storage.SQLiteRepository
	ledger      *ledger.Ledger
	learning    *services.LearningService
	decisions   DecisionPublisher
	policy      core.Policy
	logger      *log.Logger
	rateLimiter *rateLimiter
	metrics     *securityMetrics
	origins     []string
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	s := &Server{
		Server: http.Server{
			Addr:              opts.Addr,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		repo:        opts.Repo,
		ledger:      opts.Ledger,
		learning:    opts.Learning,
		decisions:   opts.Decisions,
		policy:      opts.Policy,
		logger:      logger.WithComponent(log.ComponentHTTP),
		rateLimiter: newRateLimiter(opts.RequestsPerMinute),
		metrics:     &securityMetrics{},
		origins:     opts.AllowedOrigins,
	}
	s.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(log.Middleware(s.logger), s.secure)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id:[0-9]+}", s.handleGetRun).Methods(http.MethodGet)

	r.HandleFunc("/transactions/flagged", s.handleListFlagged).Methods(http.MethodGet)
	r.HandleFunc("/transactions/uncategorized", s.handleListUncategorized).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{id:[0-9]+}/review", s.limit(s.handleReview)).Methods(http.MethodPost)

	r.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	r.HandleFunc("/rules", s.limit(s.handleCreateRule)).Methods(http.MethodPost)

	r.HandleFunc("/export/flagged.xlsx", s.handleExportFlagged).Methods(http.MethodGet)
	r.HandleFunc("/export/runs.xlsx", s.handleExportRuns).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		NotFoundError("no such route").Write(w)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})

	if len(s.origins) == 0 {
		return r
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", log.RequestIDHeader},
		ExposedHeaders: []string{log.RequestIDHeader, "Content-Disposition", "Retry-After"},
		MaxAge:         300,
	}).Handler(r)
}

// Shutdown stops background work and drains connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.stop()
	s.logger.Info("HTTP server shutting down",
		"rate_limit_hits", atomic.LoadInt64(&s.metrics.rateLimitHits),
		"suspicious_requests", atomic.LoadInt64(&s.metrics.suspiciousRequests))
	return s.Server.Shutdown(ctx)
}
