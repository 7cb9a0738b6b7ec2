// internal/connectivity/monitor.go
package connectivity

import (
	"context"
	"sync"

	"github.com/cmatc13/sequencer/internal/committee"
	"github.com/cmatc13/sequencer/pkg/errors"
	"github.com/cmatc13/sequencer/pkg/logging"
	"github.com/cmatc13/sequencer/pkg/metrics"
)

// Status represents the last known connectivity state of a validator.
type Status string

const (
	// StatusConnected indicates the peer is reachable.
	StatusConnected Status = "CONNECTED"
	// StatusDisconnected indicates the peer is unreachable.
	StatusDisconnected Status = "DISCONNECTED"
)

// Event is one peer connectivity change reported by the transport layer.
type Event struct {
	// Peer is the transport-level peer identifier.
	Peer string `json:"peer"`
	// Status is the new connectivity status.
	Status Status `json:"status"`
}

// Checker reports the last known connectivity status of a validator. The
// boolean result is false when the validator is unknown to the checker.
type Checker interface {
	CheckConnection(validator committee.ValidatorID) (Status, bool)
}

// AllConnected is a Checker that reports every validator as connected.
// It is the stand-in when no connectivity monitor is running, so that at
// most one extra submission happens rather than one per committee member.
type AllConnected struct{}

// CheckConnection implements the Checker interface.
func (AllConnected) CheckConnection(committee.ValidatorID) (Status, bool) {
	return StatusConnected, true
}

// entry holds one validator's status behind its own lock. Readers that
// find the lock held report the validator as disconnected instead of
// waiting: understating connectivity only costs an extra submission, while
// a stale "connected" risks nobody submitting.
type entry struct {
	mu     sync.Mutex
	status Status
}

// Monitor maintains the latest known connectivity status per validator,
// fed by an asynchronous stream of peer events. The event loop is the sole
// writer; reads are concurrent.
type Monitor struct {
	entries         map[committee.ValidatorID]*entry
	peerToValidator map[string]committee.ValidatorID
	logger          *logging.Logger
	metrics         *metrics.Metrics
}

// NewMonitor creates a monitor for the validators in the given
// peer-to-validator mapping. All validators start out connected: without a
// connectivity feed the fallback behavior is a single submission, not one
// submission per committee member.
func NewMonitor(peerToValidator map[string]committee.ValidatorID, logger *logging.Logger, m *metrics.Metrics) *Monitor {
	entries := make(map[committee.ValidatorID]*entry, len(peerToValidator))
	for _, validator := range peerToValidator {
		entries[validator] = &entry{status: StatusConnected}
	}

	return &Monitor{
		entries:         entries,
		peerToValidator: peerToValidator,
		logger:          logger,
		metrics:         m,
	}
}

// Run consumes connectivity events until the context is cancelled or the
// event channel is closed.
func (m *Monitor) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.apply(event)
		}
	}
}

func (m *Monitor) apply(event Event) {
	validator, ok := m.peerToValidator[event.Peer]
	if !ok {
		err := errors.NewSubmitterError(errors.SubmitterErrUnknownPeer,
			"connectivity event for unmapped peer", nil)
		m.logger.WithError(err).Error("Received connectivity event for unknown peer", "peer", event.Peer)
		return
	}

	m.logger.Debug("Peer connectivity changed",
		"peer", event.Peer,
		"validator", string(validator),
		"status", string(event.Status))

	e := m.entries[validator]
	e.mu.Lock()
	e.status = event.Status
	e.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ConnectivityEvents.WithLabelValues(string(event.Status)).Inc()
	}
}

// CheckConnection implements the Checker interface. A read that races an
// in-progress update resolves to disconnected.
func (m *Monitor) CheckConnection(validator committee.ValidatorID) (Status, bool) {
	e, ok := m.entries[validator]
	if !ok {
		return StatusDisconnected, false
	}

	if !e.mu.TryLock() {
		// Update in progress; assume the status is still or becoming
		// disconnected.
		return StatusDisconnected, true
	}
	status := e.status
	e.mu.Unlock()

	return status, true
}
