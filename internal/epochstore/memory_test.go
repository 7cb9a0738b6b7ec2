// internal/epochstore/memory_test.go
package epochstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cmatc13/sequencer/internal/committee"
	"github.com/cmatc13/sequencer/internal/transaction"
)

func newStore(t *testing.T) *MemoryStore {
	t.Helper()
	c, err := committee.New(3, []committee.Member{
		{ID: "a", Stake: 100},
		{ID: "b", Stake: 200},
	})
	require.NoError(t, err)
	return NewMemoryStore(3, c)
}

func TestInsertPendingRequiresGuard(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	cert := transaction.NewUserCertificate([]byte("payload"))

	require.Error(t, s.InsertPending(cert, nil))

	guard := s.ReconfigStateRead()
	require.NoError(t, s.InsertPending(cert, guard))
	guard.Release()

	// Control messages need no guard.
	require.NoError(t, s.InsertPending(transaction.NewEndOfPublish("a"), nil))
}

func TestInsertPendingRejectedAfterClose(t *testing.T) {
	t.Parallel()

	s := newStore(t)

	w := s.ReconfigStateWrite()
	require.True(t, w.ShouldAcceptUserCerts())
	require.NoError(t, w.CloseUserCerts())
	require.False(t, w.ShouldAcceptUserCerts())
	w.Release()

	guard := s.ReconfigStateRead()
	defer guard.Release()
	require.True(t, guard.IsRejectingUserCerts())
	require.Error(t, s.InsertPending(transaction.NewUserCertificate([]byte("late")), guard))

	// End of publish is still accepted while draining.
	require.NoError(t, s.InsertPending(transaction.NewEndOfPublish("a"), nil))
}

func TestPendingCertificateCountIgnoresControlMessages(t *testing.T) {
	t.Parallel()

	s := newStore(t)

	guard := s.ReconfigStateRead()
	require.NoError(t, s.InsertPending(transaction.NewUserCertificate([]byte("one")), guard))
	require.NoError(t, s.InsertPending(transaction.NewUserCertificate([]byte("two")), guard))
	guard.Release()
	require.NoError(t, s.InsertPending(transaction.NewEndOfPublish("a"), nil))

	count, err := s.PendingCertificateCount()
	require.NoError(t, err)
	require.Equal(t, 2, count)

	all, err := s.AllPending()
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestRemovePendingIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	cert := transaction.NewUserCertificate([]byte("payload"))

	guard := s.ReconfigStateRead()
	require.NoError(t, s.InsertPending(cert, guard))
	guard.Release()

	require.NoError(t, s.RemovePending(cert.Key()))
	require.NoError(t, s.RemovePending(cert.Key()))

	count, err := s.PendingCertificateCount()
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestInsertPendingDeduplicates(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	cert := transaction.NewUserCertificate([]byte("payload"))

	guard := s.ReconfigStateRead()
	require.NoError(t, s.InsertPending(cert, guard))
	require.NoError(t, s.InsertPending(cert, guard))
	guard.Release()

	count, err := s.PendingCertificateCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestProcessedNotify(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	key := transaction.NewUserCertificate([]byte("payload")).Key()

	ch := s.ProcessedNotify(key)
	select {
	case <-ch:
		t.Fatal("notification fired before MarkProcessed")
	case <-time.After(10 * time.Millisecond):
	}

	s.MarkProcessed(key)
	select {
	case err := <-ch:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("notification never fired")
	}

	// A waiter arriving after the fact resolves immediately.
	select {
	case err := <-s.ProcessedNotify(key):
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("late waiter did not resolve")
	}
}

func TestTerminateEpochCancelsAliveContext(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := s.AliveContext()
	require.NoError(t, ctx.Err())

	s.TerminateEpoch()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("alive context not cancelled")
	}
}

func TestReconfigGuardReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newStore(t)

	guard := s.ReconfigStateRead()
	guard.Release()
	guard.Release()

	w := s.ReconfigStateWrite()
	w.Release()
	w.Release()

	// Both locks are free again.
	g := s.ReconfigStateRead()
	g.Release()
}
