// internal/submitter/inflight.go

package submitter

import (
	"strconv"
	"time"
)

// inflightGuard tracks one delivery attempt from admission to completion.
// It records the attempt counter and inflight gauge on acquire, and on
// release records the authority position and end-to-end latency labeled by
// the position this validator submitted at, or "not_submitted" when
// another validator delivered first.
type inflightGuard struct {
	s        *Submitter
	start    time.Time
	position int
}

func (s *Submitter) acquireInflight() *inflightGuard {
	s.inflight.Add(1)
	if s.metrics != nil {
		s.metrics.SequencingCertificateAttempt.Inc()
		s.metrics.SequencingCertificateInflight.Inc()
	}
	return &inflightGuard{s: s, start: time.Now(), position: -1}
}

// setPosition records the rank at which this validator submitted.
func (g *inflightGuard) setPosition(position int) {
	g.position = position
}

// release ends the attempt. Safe against every exit path via defer.
func (g *inflightGuard) release() {
	g.s.inflight.Add(-1)
	if g.s.metrics == nil {
		return
	}
	g.s.metrics.SequencingCertificateInflight.Dec()

	positionLabel := "not_submitted"
	if g.position >= 0 {
		g.s.metrics.SequencingAuthorityPosition.Observe(float64(g.position))
		positionLabel = strconv.Itoa(g.position)
	}
	g.s.metrics.SequencingCertificateLatency.
		WithLabelValues(positionLabel).
		Observe(time.Since(g.start).Seconds())
}
