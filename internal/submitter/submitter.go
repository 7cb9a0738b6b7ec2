// internal/submitter/submitter.go

// Package submitter decides whether this validator should submit a given
// transaction to consensus, delivers it with unbounded retry until the
// consensus pipeline acknowledges it, and drives the end-of-epoch drain
// protocol.
package submitter

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cmatc13/sequencer/internal/committee"
	"github.com/cmatc13/sequencer/internal/connectivity"
	"github.com/cmatc13/sequencer/internal/epochstore"
	"github.com/cmatc13/sequencer/internal/transaction"
	"github.com/cmatc13/sequencer/pkg/errors"
	"github.com/cmatc13/sequencer/pkg/logging"
	"github.com/cmatc13/sequencer/pkg/metrics"
)

// ConsensusClient hands a transaction to the external consensus engine.
// An error means this attempt failed and the submitter retries.
type ConsensusClient interface {
	SubmitToConsensus(ctx context.Context, tx *transaction.ConsensusTransaction) error
}

// Config tunes the delivery timing knobs.
type Config struct {
	// AckTimeout is how long to wait for the processed notification before
	// falling back to an unconditional resubmit.
	AckTimeout time.Duration
	// RetryBackoff is the fixed delay between failed hand-off attempts.
	RetryBackoff time.Duration
	// WarnInterval is the period of the escalating slow-commit warnings.
	WarnInterval time.Duration
}

// DefaultConfig returns the production delivery timings.
func DefaultConfig() Config {
	return Config{
		AckTimeout:   7 * time.Second,
		RetryBackoff: 10 * time.Second,
		WarnInterval: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.WarnInterval <= 0 {
		c.WarnInterval = d.WarnInterval
	}
	return c
}

// retryLogThreshold is how many consecutive failed hand-off attempts are
// tolerated before escalating the retry log to error level.
const retryLogThreshold = 3

// Submitter owns submission decisions and delivery guarantees for one
// epoch's store.
type Submitter struct {
	store        epochstore.Store
	client       ConsensusClient
	self         committee.ValidatorID
	connectivity connectivity.Checker
	metrics      *metrics.Metrics
	logger       *logging.Logger
	cfg          Config

	inflight atomic.Int64
}

// New creates a Submitter. The metrics handle may be nil to disable
// instrumentation.
func New(
	store epochstore.Store,
	client ConsensusClient,
	self committee.ValidatorID,
	conn connectivity.Checker,
	logger *logging.Logger,
	m *metrics.Metrics,
	cfg Config,
) (*Submitter, error) {
	if !store.Committee().Contains(self) {
		return nil, errors.NewSubmitterError(
			errors.SubmitterErrSelfNotInCommittee,
			fmt.Sprintf("validator %s is not a member of the epoch %d committee", self, store.Epoch()),
			nil,
		)
	}
	return &Submitter{
		store:        store,
		client:       client,
		self:         self,
		connectivity: conn,
		metrics:      m,
		logger:       logger,
		cfg:          cfg.withDefaults(),
	}, nil
}

// Handle tracks one asynchronous delivery attempt.
type Handle struct {
	done chan struct{}
}

// Wait blocks until the delivery attempt completes or the context is
// cancelled.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the delivery attempt completes.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Submit durably records the transaction as pending, then starts delivery
// in the background. Once Submit returns nil the transaction will reach
// consensus or the epoch will end; no client-visible retry is needed. User
// certificates must be submitted under a reconfiguration read guard.
func (s *Submitter) Submit(tx *transaction.ConsensusTransaction, guard *epochstore.ReconfigGuard) (*Handle, error) {
	if err := s.store.InsertPending(tx, guard); err != nil {
		return nil, errors.WrapWithOperation(err, errors.OpSubmit)
	}
	return s.submitUnchecked(tx), nil
}

// submitUnchecked starts delivery for a transaction already recorded as
// pending.
func (s *Submitter) submitUnchecked(tx *transaction.ConsensusTransaction) *Handle {
	h := &Handle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		s.submitAndWait(tx)
	}()
	return h
}

func (s *Submitter) submitAndWait(tx *transaction.ConsensusTransaction) {
	s.submitAndWaitInner(s.store.AliveContext(), tx)
}

// submitAndWaitInner runs one full delivery attempt: decide whether to
// submit, hand off if responsible, wait for the processed notification
// with a timeout fallback, then clean up pending state and drive the
// end-of-publish drain. Bounded only by epoch end.
func (s *Submitter) submitAndWaitInner(ctx context.Context, tx *transaction.ConsensusTransaction) {
	key := tx.Key()

	if tx.IsEndOfPublish() {
		s.logger.WithField("epoch", s.store.Epoch()).Info("submitting end of publish message to consensus")
	}

	guard := s.acquireInflight()
	defer guard.release()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go s.watchCommitDelay(watchCtx, key)

	// Which committee ranks have already been tried and timed out. Kept
	// for the submission decision; the timeout fallback below submits
	// unconditionally instead of re-walking with exclusions.
	var exclusions []int

	if s.shouldSubmit(tx, guard, exclusions) {
		if !s.submitToClient(ctx, tx) {
			return
		}
	}

	processed := s.store.ProcessedNotify(key)
	timer := time.NewTimer(s.cfg.AckTimeout)
	select {
	case err := <-processed:
		timer.Stop()
		if err != nil {
			panic(fmt.Sprintf("processed notification failed for %s: %v", key, err))
		}
	case <-timer.C:
		if s.metrics != nil {
			s.metrics.SequencingCertificateTimeouts.Inc()
		}
		s.logger.WithField("key", key).Warn("no processed notification within ack timeout, submitting unconditionally")
		if !s.submitToClient(ctx, tx) {
			return
		}
	case <-ctx.Done():
		timer.Stop()
		return
	}

	if ctx.Err() != nil {
		return
	}

	// The transaction made it into the consensus pipeline. Failing to
	// clear the pending record would resubmit it forever on restart.
	if err := s.store.RemovePending(key); err != nil {
		panic(fmt.Sprintf("failed to remove pending transaction %s: %v", key, err))
	}

	s.maybeSubmitEndOfPublish(tx)

	if s.metrics != nil {
		s.metrics.SequencingCertificateSuccess.Inc()
	}
}

// maybeSubmitEndOfPublish submits this validator's end-of-publish message
// when the epoch is draining and the last pending user certificate has
// just been delivered. The decision is made under the reconfiguration read
// guard; the submission itself happens after release.
func (s *Submitter) maybeSubmitEndOfPublish(tx *transaction.ConsensusTransaction) {
	if !tx.IsUserCertificate() {
		return
	}

	guard := s.store.ReconfigStateRead()
	submitEoP := false
	if guard.IsRejectingUserCerts() {
		count, err := s.store.PendingCertificateCount()
		if err != nil {
			guard.Release()
			panic(fmt.Sprintf("failed to count pending certificates: %v", err))
		}
		submitEoP = count == 0
	}
	guard.Release()

	if !submitEoP {
		return
	}
	eop := transaction.NewEndOfPublish(s.self)
	if _, err := s.Submit(eop, nil); err != nil {
		s.logger.WithError(err).Warn("failed to submit end of publish after drain")
	}
}

// submitToClient hands the transaction to the consensus engine, retrying
// with a fixed backoff until it succeeds or the epoch ends. Returns false
// only on epoch end.
func (s *Submitter) submitToClient(ctx context.Context, tx *transaction.ConsensusTransaction) bool {
	key := tx.Key()
	start := time.Now()
	retries := 0

	for {
		err := s.client.SubmitToConsensus(ctx, tx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return false
		}

		log := s.logger.WithField("key", key).WithField("retries", retries).WithError(err)
		if retries > retryLogThreshold {
			log.Error("consensus submission still failing after repeated retries")
		} else {
			log.Warn("consensus submission failed, retrying")
		}
		if s.metrics != nil {
			s.metrics.SequencingCertificateFailures.Inc()
		}
		retries++

		select {
		case <-time.After(s.cfg.RetryBackoff):
		case <-ctx.Done():
			return false
		}
	}

	if s.metrics != nil {
		s.metrics.SequencingAcknowledgeLatency.
			WithLabelValues(retryBucket(retries)).
			Observe(time.Since(start).Seconds())
	}
	return true
}

// shouldSubmit decides whether this validator submits the transaction.
// Control messages are always submitted by their origin; user certificates
// go through the stake-ordered connectivity walk.
func (s *Submitter) shouldSubmit(tx *transaction.ConsensusTransaction, guard *inflightGuard, exclusions []int) bool {
	if !tx.IsUserCertificate() {
		return true
	}
	return s.checkSubmissionWrtConnectivity(tx.Digest, guard, exclusions)
}

// checkSubmissionWrtConnectivity walks the deterministic submission order
// for the digest. This validator submits if every earlier, non-excluded
// validator is disconnected, or when its own rank is reached. A connected
// earlier validator takes responsibility instead.
func (s *Submitter) checkSubmissionWrtConnectivity(digest transaction.Digest, guard *inflightGuard, exclusions []int) bool {
	positions := OrderForSubmission(s.store.Committee(), digest)

	ourPosition := -1
	for i, id := range positions {
		if id == s.self {
			ourPosition = i
			break
		}
	}
	if ourPosition < 0 {
		panic(fmt.Sprintf("validator %s disappeared from the epoch %d committee", s.self, s.store.Epoch()))
	}

	for i := 0; ; i++ {
		if i >= len(positions) {
			// Everyone ahead is disconnected or excluded. Submit anyway.
			guard.setPosition(i)
			return true
		}
		if slices.Contains(exclusions, i) {
			continue
		}
		if i == ourPosition {
			guard.setPosition(i)
			return true
		}

		status, ok := s.connectivity.CheckConnection(positions[i])
		if !ok {
			s.logger.WithField("validator", positions[i]).Error("committee member missing from connectivity tracker")
			status = connectivity.StatusDisconnected
		}
		if status == connectivity.StatusConnected {
			return false
		}
		if s.metrics != nil {
			s.metrics.SequencingSkippedDisconnected.Inc()
		}
	}
}

// watchCommitDelay periodically warns while a transaction has not been
// acknowledged, with the cumulative wait so the escalation is visible in
// logs.
func (s *Submitter) watchCommitDelay(ctx context.Context, key transaction.Key) {
	ticker := time.NewTicker(s.cfg.WarnInterval)
	defer ticker.Stop()

	waited := time.Duration(0)
	for {
		select {
		case <-ticker.C:
			waited += s.cfg.WarnInterval
			s.logger.
				WithField("key", key).
				WithField("waited", waited.String()).
				Warn("transaction still not acknowledged by consensus")
		case <-ctx.Done():
			return
		}
	}
}

// retryBucket maps a retry count onto a bounded set of label values.
func retryBucket(retries int) string {
	switch {
	case retries <= 10:
		return fmt.Sprintf("%d", retries)
	case retries <= 20:
		return "between_10_and_20"
	case retries <= 50:
		return "between_20_and_50"
	case retries <= 100:
		return "between_50_and_100"
	default:
		return "over_100"
	}
}

// CloseEpoch begins the end-of-epoch drain: it transitions the
// reconfiguration state to RejectingUserCerts and, when no user
// certificates are pending, submits this validator's end-of-publish
// immediately. Idempotent.
func (s *Submitter) CloseEpoch() {
	guard := s.store.ReconfigStateWrite()

	if !guard.ShouldAcceptUserCerts() {
		guard.Release()
		return
	}

	count, err := s.store.PendingCertificateCount()
	if err != nil {
		guard.Release()
		panic(fmt.Sprintf("failed to count pending certificates: %v", err))
	}
	if err := guard.CloseUserCerts(); err != nil {
		guard.Release()
		panic(fmt.Sprintf("failed to persist reconfiguration state: %v", err))
	}
	guard.Release()

	s.logger.WithField("epoch", s.store.Epoch()).WithField("pending_certificates", count).Info("epoch closing, rejecting new user certificates")

	if count == 0 {
		eop := transaction.NewEndOfPublish(s.self)
		if _, err := s.Submit(eop, nil); err != nil {
			wrapped := errors.WrapWithOperation(err, errors.OpCloseEpoch)
			s.logger.WithError(wrapped).Warn("failed to submit end of publish on epoch close")
		}
	}
}

// SubmitRecovered resubmits every transaction left pending by a previous
// run. When the epoch is already draining, this validator's end-of-publish
// is synthesized only if the recovered set neither contains it nor any
// user certificate whose delivery would trigger it.
func (s *Submitter) SubmitRecovered() ([]*Handle, error) {
	recovered, err := s.store.AllPending()
	if err != nil {
		wrapped := errors.Wrap(err, "failed to load pending transactions for recovery")
		return nil, errors.WrapWithOperation(wrapped, errors.OpSubmitRecovered)
	}

	hasOwnEoP := false
	certCount := 0
	for _, tx := range recovered {
		if tx.IsEndOfPublish() && tx.Origin == s.self {
			hasOwnEoP = true
		}
		if tx.IsUserCertificate() {
			certCount++
		}
	}

	guard := s.store.ReconfigStateRead()
	if guard.IsRejectingUserCerts() && certCount == 0 && !hasOwnEoP {
		recovered = append(recovered, transaction.NewEndOfPublish(s.self))
	}
	guard.Release()

	s.logger.
		WithField("epoch", s.store.Epoch()).
		WithField("recovered", len(recovered)).
		Info("resubmitting pending transactions after restart")

	handles := make([]*Handle, 0, len(recovered))
	for _, tx := range recovered {
		handles = append(handles, s.submitUnchecked(tx))
	}
	return handles, nil
}

// InflightCount returns the number of delivery attempts currently running.
func (s *Submitter) InflightCount() uint64 {
	n := s.inflight.Load()
	if n < 0 {
		return 0
	}
	return uint64(n)
}
