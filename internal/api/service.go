// internal/api/service.go
package api

import (
	"context"
	"fmt"

	"github.com/cmatc13/sequencer/pkg/config"
	"github.com/cmatc13/sequencer/pkg/health"
	"github.com/cmatc13/sequencer/pkg/logging"
	"github.com/cmatc13/sequencer/pkg/metrics"
	"github.com/cmatc13/sequencer/pkg/service"
)

// APIService wraps the API server as a Service
type APIService struct {
	server     *Server
	status     service.Status
	logger     *logging.Logger
	metrics    *metrics.Metrics
	uptimeDone chan struct{}
}

// NewAPIService creates a new API service
func NewAPIService(cfg *config.Config, sequencer Sequencer, logger *logging.Logger, m *metrics.Metrics, healthRegistry *health.Registry) *APIService {
	return &APIService{
		server:  NewServer(cfg, sequencer, logger, m, healthRegistry),
		status:  service.StatusStopped,
		logger:  logger,
		metrics: m,
	}
}

// Name returns the service name
func (s *APIService) Name() string {
	return "api"
}

// Start initializes and starts the service
func (s *APIService) Start(ctx context.Context) error {
	s.status = service.StatusStarting

	go s.server.Start()

	if s.metrics != nil {
		s.uptimeDone = make(chan struct{})
		s.metrics.RecordUptime(s.uptimeDone)
	}

	s.status = service.StatusRunning
	return nil
}

// Stop gracefully shuts down the service
func (s *APIService) Stop(ctx context.Context) error {
	s.status = service.StatusStopping

	s.server.Shutdown(ctx)
	if s.uptimeDone != nil {
		close(s.uptimeDone)
		s.uptimeDone = nil
	}

	s.status = service.StatusStopped
	return nil
}

// Status returns the current service status
func (s *APIService) Status() service.Status {
	return s.status
}

// Health performs a health check
func (s *APIService) Health() error {
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running")
	}
	return nil
}

// Dependencies returns a list of services this service depends on
func (s *APIService) Dependencies() []string {
	return []string{"submitter"}
}
