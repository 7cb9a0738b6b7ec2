// internal/epochstore/store.go

// Package epochstore defines the contract the submission layer requires
// from the per-epoch store: the durable pending-transaction set, the
// reconfiguration state machine, processed-notification plumbing, and the
// epoch-alive context that bounds all delivery work.
package epochstore

import (
	"context"
	"sync"

	"github.com/cmatc13/sequencer/internal/committee"
	"github.com/cmatc13/sequencer/internal/transaction"
	"github.com/cmatc13/sequencer/pkg/errors"
)

// ReconfigState is the epoch-closing state machine.
type ReconfigState string

const (
	// AcceptingCerts is normal operation: user certificates are accepted
	// and submitted.
	AcceptingCerts ReconfigState = "ACCEPTING_CERTS"
	// RejectingUserCerts means no new user certificates are accepted, but
	// already-pending ones continue being delivered.
	RejectingUserCerts ReconfigState = "REJECTING_USER_CERTS"
	// RejectingAllCerts means a quorum of end-of-publish messages has been
	// observed and nothing further is submitted this epoch.
	RejectingAllCerts ReconfigState = "REJECTING_ALL_CERTS"
)

// Store is the per-epoch store consumed by the submission layer. The
// submission layer reads reconfiguration state and triggers transitions
// but never owns the storage.
type Store interface {
	// Epoch returns the epoch this store belongs to.
	Epoch() uint64

	// Committee returns the stake-weighted committee for this epoch.
	Committee() *committee.Committee

	// AliveContext returns a context that is cancelled when the epoch
	// ends. All delivery work must be bounded by it.
	AliveContext() context.Context

	// TerminateEpoch cancels the alive context, aborting all remaining
	// delivery work for this epoch.
	TerminateEpoch()

	// InsertPending durably records a transaction as pending. User
	// certificates require a read guard in the AcceptingCerts state;
	// control messages pass a nil guard.
	InsertPending(tx *transaction.ConsensusTransaction, guard *ReconfigGuard) error

	// RemovePending removes an acknowledged transaction from the pending
	// set.
	RemovePending(key transaction.Key) error

	// PendingCertificateCount returns the number of pending user
	// certificates. Control messages are not counted.
	PendingCertificateCount() (int, error)

	// AllPending returns every pending transaction, for restart recovery.
	AllPending() ([]*transaction.ConsensusTransaction, error)

	// ProcessedNotify returns a channel that receives once the consensus
	// processing pipeline confirms the keyed transaction landed. A
	// transaction already processed resolves immediately.
	ProcessedNotify(key transaction.Key) <-chan error

	// MarkProcessed records that the consensus pipeline processed the
	// keyed transaction and resolves its waiters.
	MarkProcessed(key transaction.Key)

	// ReconfigStateRead acquires a read guard on the reconfiguration
	// state. The caller must release it.
	ReconfigStateRead() *ReconfigGuard

	// ReconfigStateWrite acquires a write guard on the reconfiguration
	// state. The caller must release it.
	ReconfigStateWrite() *ReconfigWriteGuard
}

// ReconfigGuard is a read guard over the reconfiguration state. The state
// cannot transition while the guard is held.
type ReconfigGuard struct {
	state   ReconfigState
	once    sync.Once
	release func()
}

// State returns the reconfiguration state observed under the guard.
func (g *ReconfigGuard) State() ReconfigState {
	return g.state
}

// ShouldAcceptUserCerts reports whether new user certificates are accepted.
func (g *ReconfigGuard) ShouldAcceptUserCerts() bool {
	return g.state == AcceptingCerts
}

// IsRejectingUserCerts reports whether the epoch is draining user
// certificates.
func (g *ReconfigGuard) IsRejectingUserCerts() bool {
	return g.state == RejectingUserCerts
}

// Release releases the guard. It is safe to call more than once.
func (g *ReconfigGuard) Release() {
	g.once.Do(g.release)
}

// ReconfigWriteGuard is a write guard over the reconfiguration state,
// allowing transitions.
type ReconfigWriteGuard struct {
	state      ReconfigState
	once       sync.Once
	release    func()
	transition func(ReconfigState) error
}

// State returns the reconfiguration state observed under the guard.
func (g *ReconfigWriteGuard) State() ReconfigState {
	return g.state
}

// ShouldAcceptUserCerts reports whether new user certificates are accepted.
func (g *ReconfigWriteGuard) ShouldAcceptUserCerts() bool {
	return g.state == AcceptingCerts
}

// CloseUserCerts transitions the state to RejectingUserCerts.
func (g *ReconfigWriteGuard) CloseUserCerts() error {
	if err := g.transition(RejectingUserCerts); err != nil {
		return err
	}
	g.state = RejectingUserCerts
	return nil
}

// CloseAllCerts transitions the state to RejectingAllCerts. The quorum
// determination that drives this transition is external to the submission
// layer.
func (g *ReconfigWriteGuard) CloseAllCerts() error {
	if err := g.transition(RejectingAllCerts); err != nil {
		return err
	}
	g.state = RejectingAllCerts
	return nil
}

// Release releases the guard. It is safe to call more than once.
func (g *ReconfigWriteGuard) Release() {
	g.once.Do(g.release)
}

// checkInsertGuard validates the guard discipline for InsertPending.
func checkInsertGuard(tx *transaction.ConsensusTransaction, guard *ReconfigGuard) error {
	if !tx.IsUserCertificate() {
		return nil
	}
	if guard == nil {
		return errors.NewSubmitterError(
			errors.SubmitterErrMissingReconfigGuard,
			"user certificates must be submitted under a reconfiguration state guard",
			nil,
		)
	}
	if !guard.ShouldAcceptUserCerts() {
		return errors.NewSubmitterError(
			errors.SubmitterErrRejectingUserCerts,
			"epoch is closing, user certificates are no longer accepted",
			nil,
		)
	}
	return nil
}

// notifier resolves processed-notification waiters per transaction key.
type notifier struct {
	mu        sync.Mutex
	processed map[transaction.Key]bool
	waiters   map[transaction.Key][]chan error
}

func newNotifier() *notifier {
	return &notifier{
		processed: make(map[transaction.Key]bool),
		waiters:   make(map[transaction.Key][]chan error),
	}
}

// wait returns a channel resolved when the key is processed. Keys already
// processed resolve immediately.
func (n *notifier) wait(key transaction.Key) <-chan error {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan error, 1)
	if n.processed[key] {
		ch <- nil
		return ch
	}
	n.waiters[key] = append(n.waiters[key], ch)
	return ch
}

// notify marks the key processed and resolves all its waiters.
func (n *notifier) notify(key transaction.Key) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.processed[key] {
		return
	}
	n.processed[key] = true
	for _, ch := range n.waiters[key] {
		ch <- nil
	}
	delete(n.waiters, key)
}
