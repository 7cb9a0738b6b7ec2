// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/cmatc13/sequencer/internal/transaction"
	"github.com/cmatc13/sequencer/pkg/config"
	"github.com/cmatc13/sequencer/pkg/health"
	"github.com/cmatc13/sequencer/pkg/logging"
	"github.com/cmatc13/sequencer/pkg/metrics"
	"github.com/cmatc13/sequencer/pkg/submission"
)

// maxCertificateBytes bounds the accepted certificate payload size.
const maxCertificateBytes = 1 << 20

// Sequencer is the submission surface the API exposes.
type Sequencer interface {
	submission.Submitter
	InflightCount() uint64
}

// Server is the operator-facing HTTP server: transaction ingestion,
// health, metrics, and inflight introspection.
type Server struct {
	config           *config.Config
	router           *chi.Mux
	sequencer        Sequencer
	server           *http.Server
	logger           *logging.Logger
	metricsCollector *metrics.Metrics
	healthRegistry   *health.Registry
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, sequencer Sequencer, logger *logging.Logger, m *metrics.Metrics, healthRegistry *health.Registry) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:           cfg,
		router:           r,
		sequencer:        sequencer,
		logger:           logger,
		metricsCollector: m,
		healthRegistry:   healthRegistry,
		server: &http.Server{
			Addr:    ":" + cfg.API.Port,
			Handler: r,
		},
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.API.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Use(httprate.LimitByIP(s.config.API.RateLimit, 1*time.Minute))
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.metricsCollector != nil {
		s.router.Get("/metrics", s.metricsCollector.Handler().ServeHTTP)
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/transactions", s.handleSubmitTransaction)
		r.Get("/inflight", s.handleInflight)
	})
}

// Start starts the API server
func (s *Server) Start() {
	s.logger.WithField("port", s.config.API.Port).Info("starting API server")

	if s.metricsCollector != nil {
		s.metricsCollector.ServiceLastStarted.Set(float64(time.Now().Unix()))
	}

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("error starting server")
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("error during server shutdown")
	}
}

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := s.healthRegistry.RunChecks(r.Context())

	status := health.StatusUp
	for _, check := range checks {
		if check.Status == health.StatusDown {
			status = health.StatusDown
			break
		} else if check.Status == health.StatusUnknown && status != health.StatusDown {
			status = health.StatusUnknown
		}
	}

	httpStatus := http.StatusOK
	if status == health.StatusDown {
		httpStatus = http.StatusServiceUnavailable
	}

	resp := Response{
		Success: status == health.StatusUp,
		Message: "Service health status: " + string(status),
		Data: map[string]interface{}{
			"status":    status,
			"timestamp": time.Now().Unix(),
			"checks":    checks,
			"system": map[string]interface{}{
				"go_version":    runtime.Version(),
				"go_goroutines": runtime.NumGoroutine(),
			},
		},
	}

	s.renderJSON(w, resp, httpStatus)
}

// handleSubmitTransaction accepts a certificate payload and hands it to the
// submission layer. A 202 means the transaction is durably pending and will
// reach consensus without further client action.
func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxCertificateBytes+1))
	if err != nil {
		s.renderError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(payload) == 0 {
		s.renderError(w, "Empty certificate payload", http.StatusBadRequest)
		return
	}
	if len(payload) > maxCertificateBytes {
		s.renderError(w, "Certificate payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	tx := transaction.NewUserCertificate(payload)
	if err := s.sequencer.SubmitTransaction(tx); err != nil {
		s.logger.WithError(err).Warn("transaction submission rejected")
		s.renderError(w, err.Error(), http.StatusConflict)
		return
	}

	s.renderJSON(w, Response{
		Success: true,
		Message: "Transaction accepted for consensus submission",
		Data: map[string]interface{}{
			"key":         string(tx.Key()),
			"digest":      tx.Digest.String(),
			"tracking_id": tx.TrackingID,
		},
	}, http.StatusAccepted)
}

// handleInflight reports the number of delivery attempts currently running
func (s *Server) handleInflight(w http.ResponseWriter, r *http.Request) {
	s.renderJSON(w, Response{
		Success: true,
		Data: map[string]interface{}{
			"inflight": s.sequencer.InflightCount(),
		},
	}, http.StatusOK)
}

// renderJSON writes a JSON response with the given status code
func (s *Server) renderJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

// renderError writes a JSON error response
func (s *Server) renderError(w http.ResponseWriter, message string, status int) {
	s.renderJSON(w, Response{
		Success: false,
		Error:   message,
	}, status)
}
