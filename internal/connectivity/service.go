// internal/connectivity/service.go
package connectivity

import (
	"context"
	"fmt"

	"github.com/cmatc13/sequencer/pkg/service"
)

// MonitorService wraps the Monitor and its event source as a Service
type MonitorService struct {
	monitor *Monitor
	source  *KafkaSource
	status  service.Status
}

// NewMonitorService creates a new connectivity monitor service
func NewMonitorService(monitor *Monitor, source *KafkaSource) *MonitorService {
	return &MonitorService{
		monitor: monitor,
		source:  source,
		status:  service.StatusStopped,
	}
}

// Name returns the service name
func (s *MonitorService) Name() string {
	return "connectivity-monitor"
}

// Start begins consuming connectivity events
func (s *MonitorService) Start(ctx context.Context) error {
	s.status = service.StatusStarting

	go s.source.Run(ctx)
	go s.monitor.Run(ctx, s.source.Events())

	s.status = service.StatusRunning
	return nil
}

// Stop gracefully shuts down the service
func (s *MonitorService) Stop(ctx context.Context) error {
	s.status = service.StatusStopping

	// The event loops are stopped via context cancellation, handled in main.

	s.status = service.StatusStopped
	return nil
}

// Status returns the current service status
func (s *MonitorService) Status() service.Status {
	return s.status
}

// Health performs a health check
func (s *MonitorService) Health() error {
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running")
	}
	return nil
}

// Dependencies returns a list of services this service depends on
func (s *MonitorService) Dependencies() []string {
	return []string{}
}
