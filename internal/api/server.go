// Package api exposes the pool lifecycle and dashboard operations over
// HTTP. The wallet/session layer is an external collaborator: requests
// arrive with an authenticated user ID header, which is resolved to the
// user's wallet before anything else runs.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fanstake/fanstake/internal/dashboard"
	"github.com/fanstake/fanstake/internal/ledger"
	"github.com/fanstake/fanstake/internal/metrics"
	"github.com/fanstake/fanstake/internal/pool"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Server hosts the pool API.
type Server struct {
	db         *gorm.DB
	pools      *pool.Manager
	ledger     *ledger.Ledger
	aggregator *dashboard.Aggregator
	logger     zerolog.Logger
	httpServer *http.Server
}

// NewServer wires the routes and middleware.
func NewServer(db *gorm.DB, pools *pool.Manager, lg *ledger.Ledger, aggregator *dashboard.Aggregator, port string, logger zerolog.Logger) *Server {
	s := &Server{
		db:         db,
		pools:      pools,
		ledger:     lg,
		aggregator: aggregator,
		logger:     logger.With().Str("component", "api").Logger(),
	}

	router := mux.NewRouter()
	router.Use(s.logging)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/pools", s.handleCreatePool).Methods(http.MethodPost)
	apiRouter.HandleFunc("/pools", s.handleGetPool).Methods(http.MethodGet)
	apiRouter.HandleFunc("/pools", s.handleDeletePool).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/pools", s.handleUpdateDescription).Methods(http.MethodPatch)
	apiRouter.HandleFunc("/pools/confirm", s.handleConfirmPool).Methods(http.MethodPost)
	apiRouter.HandleFunc("/pools/recompute", s.handleRecompute).Methods(http.MethodPost)
	apiRouter.HandleFunc("/pools/dashboard", s.handleDashboard).Methods(http.MethodGet)
	apiRouter.HandleFunc("/pools/fans", s.handleFans).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Handler returns the configured HTTP handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Starting API server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		metrics.RecordHTTPRequest(route, fmt.Sprintf("%d", recorder.status))

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", route).
			Int("status", recorder.status).
			Dur("duration", time.Since(started)).
			Msg("Request handled")
	})
}
