// Package metrics provides metrics collection capabilities for the sequencer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// sequencingLatencyBuckets cover the expected range of consensus
// acknowledgment latencies, from sub-second up to ten minutes.
var sequencingLatencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 7.5, 10, 12.5, 15, 20, 25, 30, 60, 90, 120, 180, 300, 600,
}

// positionBuckets resolve the first twenty committee positions exactly and
// band the tail in steps of five.
func positionBuckets() []float64 {
	buckets := prometheus.LinearBuckets(0, 1, 19)
	return append(buckets, prometheus.LinearBuckets(20, 5, 10)...)
}

// Metrics holds all the metrics collectors for the sequencer.
type Metrics struct {
	// Registry is the Prometheus registry for all metrics.
	Registry *prometheus.Registry

	// Common metrics
	ServiceUptime      prometheus.Gauge
	ServiceLastStarted prometheus.Gauge

	// Certificate sequencing metrics
	SequencingCertificateAttempt  prometheus.Counter
	SequencingCertificateSuccess  prometheus.Counter
	SequencingCertificateFailures prometheus.Counter
	SequencingCertificateInflight prometheus.Gauge
	SequencingAcknowledgeLatency  *prometheus.HistogramVec
	SequencingCertificateLatency  *prometheus.HistogramVec
	SequencingAuthorityPosition   prometheus.Histogram
	SequencingCertificateTimeouts prometheus.Counter
	SequencingSkippedDisconnected prometheus.Counter

	// Connectivity metrics
	ConnectivityEvents *prometheus.CounterVec
}

// Config holds the configuration for metrics.
type Config struct {
	// Namespace is the Prometheus namespace for all metrics.
	Namespace string
	// ServiceName is the name of the service that is collecting metrics.
	ServiceName string
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:   "sequencer",
		ServiceName: "sequencer",
	}
}

// New creates a new metrics collector with the given configuration.
func New(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		Registry: registry,

		ServiceUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "service_uptime_seconds",
				Help:      "Service uptime in seconds",
				ConstLabels: prometheus.Labels{
					"service": cfg.ServiceName,
				},
			},
		),

		ServiceLastStarted: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "service_last_started_timestamp",
				Help:      "Timestamp when the service was last started",
				ConstLabels: prometheus.Labels{
					"service": cfg.ServiceName,
				},
			},
		),

		SequencingCertificateAttempt: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "sequencing",
				Name:      "certificate_attempt_total",
				Help:      "Number of certificates the validator attempts to sequence",
			},
		),

		SequencingCertificateSuccess: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "sequencing",
				Name:      "certificate_success_total",
				Help:      "Number of successfully sequenced certificates",
			},
		),

		SequencingCertificateFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "sequencing",
				Name:      "certificate_failures_total",
				Help:      "Number of certificate submissions that failed other than by timeout",
			},
		),

		SequencingCertificateInflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "sequencing",
				Name:      "certificate_inflight",
				Help:      "The inflight requests to sequence certificates",
			},
		),

		SequencingAcknowledgeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "sequencing",
				Name:      "acknowledge_latency_seconds",
				Help:      "The latency for acknowledgement from the consensus client, labeled by retry bucket",
				Buckets:   sequencingLatencyBuckets,
			},
			[]string{"retry"},
		),

		SequencingCertificateLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "sequencing",
				Name:      "certificate_latency_seconds",
				Help:      "The latency for sequencing a certificate, labeled by submission position",
				Buckets:   sequencingLatencyBuckets,
			},
			[]string{"position"},
		),

		SequencingAuthorityPosition: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "sequencing",
				Name:      "authority_position",
				Help:      "The position of this validator when it submitted a certificate to consensus",
				Buckets:   positionBuckets(),
			},
		),

		SequencingCertificateTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "sequencing",
				Name:      "certificate_timeouts_total",
				Help:      "Number of timeouts observed while waiting for another validator to submit a transaction",
			},
		),

		SequencingSkippedDisconnected: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "sequencing",
				Name:      "certificate_skipped_disconnected_total",
				Help:      "Number of times the validator responsible for a submission was observed disconnected",
			},
		),

		ConnectivityEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "connectivity",
				Name:      "events_total",
				Help:      "Number of peer connectivity events processed",
			},
			[]string{"status"},
		),
	}

	// Set initial values
	m.ServiceLastStarted.Set(float64(time.Now().Unix()))

	return m
}

// Handler returns an HTTP handler for exposing metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordUptime starts a goroutine that updates the service uptime metric.
func (m *Metrics) RecordUptime(done <-chan struct{}) {
	startTime := time.Now()
	ticker := time.NewTicker(1 * time.Second)

	go func() {
		for {
			select {
			case <-ticker.C:
				m.ServiceUptime.Set(time.Since(startTime).Seconds())
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
}
