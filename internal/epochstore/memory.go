// internal/epochstore/memory.go

package epochstore

import (
	"context"
	"sync"

	"github.com/cmatc13/sequencer/internal/committee"
	"github.com/cmatc13/sequencer/internal/transaction"
)

// MemoryStore is an in-process Store. It backs single-node deployments and
// tests where durability across restarts is not required.
type MemoryStore struct {
	epoch     uint64
	committee *committee.Committee

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pending map[transaction.Key]*transaction.ConsensusTransaction
	order   []transaction.Key

	reconfigMu sync.RWMutex
	reconfig   ReconfigState

	notifier *notifier
}

// NewMemoryStore creates a MemoryStore for the given epoch in the
// AcceptingCerts state.
func NewMemoryStore(epoch uint64, c *committee.Committee) *MemoryStore {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryStore{
		epoch:     epoch,
		committee: c,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[transaction.Key]*transaction.ConsensusTransaction),
		reconfig:  AcceptingCerts,
		notifier:  newNotifier(),
	}
}

// Epoch returns the epoch this store belongs to.
func (s *MemoryStore) Epoch() uint64 {
	return s.epoch
}

// Committee returns the stake-weighted committee for this epoch.
func (s *MemoryStore) Committee() *committee.Committee {
	return s.committee
}

// AliveContext returns the context bounding delivery work for this epoch.
func (s *MemoryStore) AliveContext() context.Context {
	return s.ctx
}

// TerminateEpoch cancels the alive context.
func (s *MemoryStore) TerminateEpoch() {
	s.cancel()
}

// InsertPending records a transaction as pending.
func (s *MemoryStore) InsertPending(tx *transaction.ConsensusTransaction, guard *ReconfigGuard) error {
	if err := checkInsertGuard(tx, guard); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tx.Key()
	if _, ok := s.pending[key]; ok {
		return nil
	}
	s.pending[key] = tx
	s.order = append(s.order, key)
	return nil
}

// RemovePending removes a transaction from the pending set.
func (s *MemoryStore) RemovePending(key transaction.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[key]; !ok {
		return nil
	}
	delete(s.pending, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// PendingCertificateCount returns the number of pending user certificates.
func (s *MemoryStore) PendingCertificateCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, tx := range s.pending {
		if tx.IsUserCertificate() {
			count++
		}
	}
	return count, nil
}

// AllPending returns every pending transaction in insertion order.
func (s *MemoryStore) AllPending() ([]*transaction.ConsensusTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*transaction.ConsensusTransaction, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.pending[key])
	}
	return out, nil
}

// ProcessedNotify returns a channel resolved when the keyed transaction is
// processed by consensus.
func (s *MemoryStore) ProcessedNotify(key transaction.Key) <-chan error {
	return s.notifier.wait(key)
}

// MarkProcessed records that consensus processed the keyed transaction.
func (s *MemoryStore) MarkProcessed(key transaction.Key) {
	s.notifier.notify(key)
}

// ReconfigStateRead acquires a read guard on the reconfiguration state.
func (s *MemoryStore) ReconfigStateRead() *ReconfigGuard {
	s.reconfigMu.RLock()
	return &ReconfigGuard{
		state:   s.reconfig,
		release: s.reconfigMu.RUnlock,
	}
}

// ReconfigStateWrite acquires a write guard on the reconfiguration state.
func (s *MemoryStore) ReconfigStateWrite() *ReconfigWriteGuard {
	s.reconfigMu.Lock()
	return &ReconfigWriteGuard{
		state:   s.reconfig,
		release: s.reconfigMu.Unlock,
		transition: func(next ReconfigState) error {
			s.reconfig = next
			return nil
		},
	}
}

var _ Store = (*MemoryStore)(nil)
