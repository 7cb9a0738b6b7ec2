// internal/submitter/service.go
package submitter

import (
	"context"
	"fmt"

	"github.com/cmatc13/sequencer/internal/transaction"
	"github.com/cmatc13/sequencer/pkg/service"
)

// Service wraps the Submitter as a managed service. Starting it runs
// restart recovery; stopping it terminates the epoch, which aborts all
// in-flight delivery work.
type Service struct {
	submitter *Submitter
	status    service.Status
}

// NewService creates a new submitter service
func NewService(s *Submitter) *Service {
	return &Service{
		submitter: s,
		status:    service.StatusStopped,
	}
}

// Name returns the service name
func (s *Service) Name() string {
	return "submitter"
}

// Start resubmits transactions left pending by a previous run
func (s *Service) Start(ctx context.Context) error {
	s.status = service.StatusStarting

	if _, err := s.submitter.SubmitRecovered(); err != nil {
		s.status = service.StatusError
		return fmt.Errorf("failed to recover pending transactions: %w", err)
	}

	s.status = service.StatusRunning
	return nil
}

// Stop terminates the epoch, aborting in-flight delivery work
func (s *Service) Stop(ctx context.Context) error {
	s.status = service.StatusStopping

	s.submitter.store.TerminateEpoch()

	s.status = service.StatusStopped
	return nil
}

// Status returns the current service status
func (s *Service) Status() service.Status {
	return s.status
}

// Health performs a health check
func (s *Service) Health() error {
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running")
	}
	return nil
}

// Dependencies returns a list of services this service depends on
func (s *Service) Dependencies() []string {
	return []string{"connectivity-monitor"}
}

// SubmitTransaction accepts a transaction for guaranteed delivery. User
// certificates are admitted under a reconfiguration read guard so the
// rejection decision and the pending insert are atomic with respect to
// epoch close.
func (s *Service) SubmitTransaction(tx *transaction.ConsensusTransaction) error {
	if tx.IsUserCertificate() {
		guard := s.submitter.store.ReconfigStateRead()
		defer guard.Release()
		_, err := s.submitter.Submit(tx, guard)
		return err
	}
	_, err := s.submitter.Submit(tx, nil)
	return err
}

// CloseEpoch begins the end-of-epoch drain.
func (s *Service) CloseEpoch() {
	s.submitter.CloseEpoch()
}

// InflightCount returns the number of delivery attempts currently running.
func (s *Service) InflightCount() uint64 {
	return s.submitter.InflightCount()
}
