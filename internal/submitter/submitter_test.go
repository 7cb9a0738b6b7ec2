// internal/submitter/submitter_test.go
package submitter

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/sequencer/internal/committee"
	"github.com/cmatc13/sequencer/internal/connectivity"
	"github.com/cmatc13/sequencer/internal/epochstore"
	"github.com/cmatc13/sequencer/internal/transaction"
	"github.com/cmatc13/sequencer/pkg/errors"
	"github.com/cmatc13/sequencer/pkg/logging"
	"github.com/cmatc13/sequencer/pkg/metrics"
)

// fakeClient records submissions and fails the first failTimes attempts.
// When autoAck is set, each successful submission marks the transaction
// processed, standing in for the consensus pipeline's acknowledgment.
type fakeClient struct {
	mu        sync.Mutex
	calls     []transaction.Key
	failTimes int
	autoAck   bool
	store     epochstore.Store
}

func (c *fakeClient) SubmitToConsensus(ctx context.Context, tx *transaction.ConsensusTransaction) error {
	c.mu.Lock()
	c.calls = append(c.calls, tx.Key())
	fail := c.failTimes > 0
	if fail {
		c.failTimes--
	}
	c.mu.Unlock()

	if fail {
		return context.DeadlineExceeded
	}
	if c.autoAck {
		c.store.MarkProcessed(tx.Key())
	}
	return nil
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeClient) callsFor(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, key := range c.calls {
		if strings.HasPrefix(string(key), prefix) {
			n++
		}
	}
	return n
}

// fakeChecker reports a fixed status per validator.
type fakeChecker struct {
	status map[committee.ValidatorID]connectivity.Status
}

func (f *fakeChecker) CheckConnection(v committee.ValidatorID) (connectivity.Status, bool) {
	status, ok := f.status[v]
	return status, ok
}

func testConfig() Config {
	return Config{
		AckTimeout:   200 * time.Millisecond,
		RetryBackoff: 5 * time.Millisecond,
		WarnInterval: time.Hour,
	}
}

func testMetrics() *metrics.Metrics {
	return metrics.New(metrics.Config{Namespace: "test", ServiceName: "test"})
}

func newTestSubmitter(t *testing.T, store epochstore.Store, client ConsensusClient, self committee.ValidatorID, checker connectivity.Checker, m *metrics.Metrics) *Submitter {
	t.Helper()
	s, err := New(store, client, self, checker, logging.FromSlog(slogt.New(t)), m, testConfig())
	require.NoError(t, err)
	return s
}

func soloStore(t *testing.T, self committee.ValidatorID) *epochstore.MemoryStore {
	t.Helper()
	c, err := committee.New(1, []committee.Member{{ID: self, Stake: 100}})
	require.NoError(t, err)
	return epochstore.NewMemoryStore(1, c)
}

func TestNewRejectsNonMember(t *testing.T) {
	t.Parallel()

	store := soloStore(t, "self")
	_, err := New(store, &fakeClient{}, "stranger", connectivity.AllConnected{}, logging.FromSlog(slogt.New(t)), nil, testConfig())
	require.Error(t, err)
}

func TestSubmitDeliversAndClearsPending(t *testing.T) {
	t.Parallel()

	store := soloStore(t, "self")
	client := &fakeClient{autoAck: true, store: store}
	m := testMetrics()
	s := newTestSubmitter(t, store, client, "self", connectivity.AllConnected{}, m)

	tx := transaction.NewUserCertificate([]byte("payload"))
	guard := store.ReconfigStateRead()
	h, err := s.Submit(tx, guard)
	guard.Release()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	count, err := store.PendingCertificateCount()
	require.NoError(t, err)
	require.Equal(t, 0, count)

	require.Equal(t, 1.0, testutil.ToFloat64(m.SequencingCertificateSuccess))
	require.Equal(t, 0.0, testutil.ToFloat64(m.SequencingCertificateInflight))
	require.Equal(t, uint64(0), s.InflightCount())
}

func TestSubmitRequiresGuardForCertificates(t *testing.T) {
	t.Parallel()

	store := soloStore(t, "self")
	s := newTestSubmitter(t, store, &fakeClient{}, "self", connectivity.AllConnected{}, nil)

	_, err := s.Submit(transaction.NewUserCertificate([]byte("payload")), nil)
	require.Error(t, err)

	var domainErr *errors.Error
	require.True(t, errors.As(err, &domainErr))
	require.Equal(t, errors.SubmitterErrMissingReconfigGuard, domainErr.Code)
	require.Equal(t, errors.OpSubmit, domainErr.Operation)
}

func TestCheckSubmissionWrtConnectivity(t *testing.T) {
	t.Parallel()

	c := testCommittee(t, 100, 100, 100, 100)
	digest := digestOf("tx")
	order := OrderForSubmission(c, digest)
	require.True(t, len(order) >= 3)

	store := epochstore.NewMemoryStore(1, c)
	self := order[1]
	m := testMetrics()

	checker := &fakeChecker{status: map[committee.ValidatorID]connectivity.Status{}}
	for _, id := range order {
		checker.status[id] = connectivity.StatusConnected
	}

	s := newTestSubmitter(t, store, &fakeClient{}, self, checker, m)

	// The leader submits regardless of anyone else's connectivity.
	leader := newTestSubmitter(t, store, &fakeClient{}, order[0], checker, m)
	lg := leader.acquireInflight()
	require.True(t, leader.checkSubmissionWrtConnectivity(digest, lg, nil))
	require.Equal(t, 0, lg.position)
	lg.release()

	// The validator ahead of us is connected, so it submits instead.
	// Nothing was skipped for disconnection.
	guard := s.acquireInflight()
	require.False(t, s.checkSubmissionWrtConnectivity(digest, guard, nil))
	guard.release()
	require.Equal(t, 0.0, testutil.ToFloat64(m.SequencingSkippedDisconnected))

	// With the leader disconnected, rank 1 takes over and the skipped
	// counter records the one disconnected validator walked past.
	checker.status[order[0]] = connectivity.StatusDisconnected
	guard = s.acquireInflight()
	require.True(t, s.checkSubmissionWrtConnectivity(digest, guard, nil))
	require.Equal(t, 1, guard.position)
	guard.release()
	require.Equal(t, 1.0, testutil.ToFloat64(m.SequencingSkippedDisconnected))

	// A validator missing from the tracker counts as disconnected.
	delete(checker.status, order[0])
	guard = s.acquireInflight()
	require.True(t, s.checkSubmissionWrtConnectivity(digest, guard, nil))
	guard.release()
	require.Equal(t, 2.0, testutil.ToFloat64(m.SequencingSkippedDisconnected))

	// An excluded rank is skipped without a connectivity check, so the
	// disconnected counter does not move.
	checker.status[order[0]] = connectivity.StatusConnected
	guard = s.acquireInflight()
	require.True(t, s.checkSubmissionWrtConnectivity(digest, guard, []int{0}))
	guard.release()
	require.Equal(t, 2.0, testutil.ToFloat64(m.SequencingSkippedDisconnected))
}

func TestCheckSubmissionExhaustionSubmits(t *testing.T) {
	t.Parallel()

	c := testCommittee(t, 100, 100)
	digest := digestOf("tx")
	order := OrderForSubmission(c, digest)

	store := epochstore.NewMemoryStore(1, c)
	s := newTestSubmitter(t, store, &fakeClient{}, order[1], connectivity.AllConnected{}, nil)

	// Excluding every rank exhausts the walk; submit anyway.
	guard := s.acquireInflight()
	require.True(t, s.checkSubmissionWrtConnectivity(digest, guard, []int{0, 1}))
	require.Equal(t, len(order), guard.position)
	guard.release()
}

func TestRetryUntilSuccess(t *testing.T) {
	t.Parallel()

	store := soloStore(t, "self")
	client := &fakeClient{failTimes: 2, autoAck: true, store: store}
	m := testMetrics()
	s := newTestSubmitter(t, store, client, "self", connectivity.AllConnected{}, m)

	guard := store.ReconfigStateRead()
	h, err := s.Submit(transaction.NewUserCertificate([]byte("payload")), guard)
	guard.Release()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	require.Equal(t, 3, client.callCount())
	require.Equal(t, 2.0, testutil.ToFloat64(m.SequencingCertificateFailures))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SequencingCertificateSuccess))
}

func TestAckTimeoutFallsBackToResubmit(t *testing.T) {
	t.Parallel()

	store := soloStore(t, "self")
	// Never acknowledges: the ack timeout path resubmits unconditionally.
	client := &fakeClient{}
	m := testMetrics()
	s := newTestSubmitter(t, store, client, "self", connectivity.AllConnected{}, m)

	guard := store.ReconfigStateRead()
	h, err := s.Submit(transaction.NewUserCertificate([]byte("payload")), guard)
	guard.Release()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	require.Equal(t, 2, client.callCount())
	require.Equal(t, 1.0, testutil.ToFloat64(m.SequencingCertificateTimeouts))

	count, err := store.PendingCertificateCount()
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestEndOfPublishSubmittedAfterDrain(t *testing.T) {
	t.Parallel()

	store := soloStore(t, "self")
	client := &fakeClient{}
	s := newTestSubmitter(t, store, client, "self", connectivity.AllConnected{}, nil)

	cert := transaction.NewUserCertificate([]byte("payload"))
	guard := store.ReconfigStateRead()
	h, err := s.Submit(cert, guard)
	guard.Release()
	require.NoError(t, err)

	// Wait until the certificate reached the client, then close the epoch
	// while it is still pending. No end of publish yet.
	require.Eventually(t, func() bool { return client.callCount() >= 1 }, 5*time.Second, time.Millisecond)
	s.CloseEpoch()
	require.Equal(t, 0, client.callsFor("eop:"))

	// Acknowledging the last pending certificate triggers end of publish.
	store.MarkProcessed(cert.Key())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))
	require.Eventually(t, func() bool { return client.callsFor("eop:") == 1 }, 5*time.Second, time.Millisecond)
}

func TestCloseEpochSubmitsEndOfPublishWhenNothingPending(t *testing.T) {
	t.Parallel()

	store := soloStore(t, "self")
	client := &fakeClient{autoAck: true, store: store}
	s := newTestSubmitter(t, store, client, "self", connectivity.AllConnected{}, nil)

	s.CloseEpoch()
	require.Eventually(t, func() bool { return client.callsFor("eop:") == 1 }, 5*time.Second, time.Millisecond)

	// Closing again is a no-op.
	s.CloseEpoch()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, client.callsFor("eop:"))
}

func TestCloseEpochRejectsNewCertificates(t *testing.T) {
	t.Parallel()

	store := soloStore(t, "self")
	client := &fakeClient{autoAck: true, store: store}
	s := newTestSubmitter(t, store, client, "self", connectivity.AllConnected{}, nil)

	s.CloseEpoch()

	guard := store.ReconfigStateRead()
	defer guard.Release()
	_, err := s.Submit(transaction.NewUserCertificate([]byte("late")), guard)
	require.Error(t, err)
}

func TestSubmitRecoveredResubmitsPending(t *testing.T) {
	t.Parallel()

	store := soloStore(t, "self")
	cert := transaction.NewUserCertificate([]byte("recovered"))
	guard := store.ReconfigStateRead()
	require.NoError(t, store.InsertPending(cert, guard))
	guard.Release()

	client := &fakeClient{autoAck: true, store: store}
	s := newTestSubmitter(t, store, client, "self", connectivity.AllConnected{}, nil)

	handles, err := s.SubmitRecovered()
	require.NoError(t, err)
	require.Len(t, handles, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range handles {
		require.NoError(t, h.Wait(ctx))
	}
	require.Equal(t, 1, client.callsFor("cert:"))
}

func TestSubmitRecoveredSynthesizesEndOfPublish(t *testing.T) {
	t.Parallel()

	store := soloStore(t, "self")
	w := store.ReconfigStateWrite()
	require.NoError(t, w.CloseUserCerts())
	w.Release()

	client := &fakeClient{autoAck: true, store: store}
	s := newTestSubmitter(t, store, client, "self", connectivity.AllConnected{}, nil)

	handles, err := s.SubmitRecovered()
	require.NoError(t, err)
	require.Len(t, handles, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range handles {
		require.NoError(t, h.Wait(ctx))
	}
	require.Equal(t, 1, client.callsFor("eop:"))
}

func TestSubmitRecoveredSkipsSynthesisWhenEndOfPublishPending(t *testing.T) {
	t.Parallel()

	store := soloStore(t, "self")
	eop := transaction.NewEndOfPublish("self")
	require.NoError(t, store.InsertPending(eop, nil))

	w := store.ReconfigStateWrite()
	require.NoError(t, w.CloseUserCerts())
	w.Release()

	client := &fakeClient{autoAck: true, store: store}
	s := newTestSubmitter(t, store, client, "self", connectivity.AllConnected{}, nil)

	handles, err := s.SubmitRecovered()
	require.NoError(t, err)
	require.Len(t, handles, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range handles {
		require.NoError(t, h.Wait(ctx))
	}
	require.Equal(t, 1, client.callsFor("eop:"))
}

func TestEpochTerminationAbortsDelivery(t *testing.T) {
	t.Parallel()

	store := soloStore(t, "self")
	// Always failing: the delivery loop keeps retrying until epoch end.
	client := &fakeClient{failTimes: 1 << 30}
	m := testMetrics()
	s := newTestSubmitter(t, store, client, "self", connectivity.AllConnected{}, m)

	guard := store.ReconfigStateRead()
	h, err := s.Submit(transaction.NewUserCertificate([]byte("payload")), guard)
	guard.Release()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return client.callCount() >= 1 }, 5*time.Second, time.Millisecond)
	store.TerminateEpoch()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	// The transaction stays pending for the next restart.
	count, err := store.PendingCertificateCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, 0.0, testutil.ToFloat64(m.SequencingCertificateSuccess))
	require.Equal(t, uint64(0), s.InflightCount())
}

func TestRetryBucket(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0", retryBucket(0))
	require.Equal(t, "10", retryBucket(10))
	require.Equal(t, "between_10_and_20", retryBucket(11))
	require.Equal(t, "between_20_and_50", retryBucket(37))
	require.Equal(t, "between_50_and_100", retryBucket(99))
	require.Equal(t, "over_100", retryBucket(101))
}
