// internal/connectivity/monitor_test.go
package connectivity

import (
	"context"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/sequencer/internal/committee"
	"github.com/cmatc13/sequencer/pkg/logging"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	return NewMonitor(map[string]committee.ValidatorID{
		"peer-a": "validator-a",
		"peer-b": "validator-b",
	}, logging.FromSlog(slogt.New(t)), nil)
}

func TestMonitorStartsAllConnected(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t)

	for _, v := range []committee.ValidatorID{"validator-a", "validator-b"} {
		status, ok := m.CheckConnection(v)
		require.True(t, ok)
		require.Equal(t, StatusConnected, status)
	}
}

func TestMonitorUnknownValidator(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t)

	status, ok := m.CheckConnection("validator-z")
	require.False(t, ok)
	require.Equal(t, StatusDisconnected, status)
}

func TestMonitorAppliesEvents(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event)
	go m.Run(ctx, events)

	events <- Event{Peer: "peer-a", Status: StatusDisconnected}
	require.Eventually(t, func() bool {
		status, ok := m.CheckConnection("validator-a")
		return ok && status == StatusDisconnected
	}, time.Second, time.Millisecond)

	// The other validator is untouched.
	status, ok := m.CheckConnection("validator-b")
	require.True(t, ok)
	require.Equal(t, StatusConnected, status)

	events <- Event{Peer: "peer-a", Status: StatusConnected}
	require.Eventually(t, func() bool {
		status, ok := m.CheckConnection("validator-a")
		return ok && status == StatusConnected
	}, time.Second, time.Millisecond)
}

func TestMonitorIgnoresUnknownPeers(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event)
	go m.Run(ctx, events)

	events <- Event{Peer: "peer-z", Status: StatusDisconnected}
	events <- Event{Peer: "peer-a", Status: StatusDisconnected}

	require.Eventually(t, func() bool {
		status, _ := m.CheckConnection("validator-a")
		return status == StatusDisconnected
	}, time.Second, time.Millisecond)

	status, ok := m.CheckConnection("validator-b")
	require.True(t, ok)
	require.Equal(t, StatusConnected, status)
}

func TestAllConnected(t *testing.T) {
	t.Parallel()

	status, ok := AllConnected{}.CheckConnection("anyone")
	require.True(t, ok)
	require.Equal(t, StatusConnected, status)
}
