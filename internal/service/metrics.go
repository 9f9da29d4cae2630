package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for sessiond.
// Pass to components that need to record metrics.
type Metrics struct {
	AdmissionsTotal   *prometheus.CounterVec
	AdmissionDuration prometheus.Histogram
	EvictionsTotal    prometheus.Counter
	HeartbeatsTotal   prometheus.Counter
	HeartbeatFailures prometheus.Counter
	SignOutsTotal     *prometheus.CounterVec
	ReapedTotal       prometheus.Counter
	SessionActive     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		AdmissionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sessiond",
				Name:      "admissions_total",
				Help:      "Total admission decisions",
			},
			[]string{"outcome"}, // outcome=admit/evict_then_admit/reject
		),
		AdmissionDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sessiond",
				Name:      "admission_duration_seconds",
				Help:      "Duration of the full admission sequence (scan, evict, verify, create)",
				Buckets:   prometheus.DefBuckets,
			},
		),
		EvictionsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "sessiond",
				Name:      "evictions_total",
				Help:      "Total sessions evicted to make room under the cap",
			},
		),
		HeartbeatsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "sessiond",
				Name:      "heartbeats_total",
				Help:      "Total successful heartbeat refreshes",
			},
		),
		HeartbeatFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "sessiond",
				Name:      "heartbeat_failures_total",
				Help:      "Total failed heartbeat refreshes",
			},
		),
		SignOutsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sessiond",
				Name:      "sign_outs_total",
				Help:      "Total session terminations",
			},
			[]string{"reason"}, // reason=logout/session_limit_exceeded
		),
		ReapedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "sessiond",
				Name:      "reaped_sessions_total",
				Help:      "Total stale sessions removed by the reaper",
			},
		),
		SessionActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sessiond",
				Name:      "session_active",
				Help:      "Whether this client currently holds an active session (0 or 1)",
			},
		),
	}
}
