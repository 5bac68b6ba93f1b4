// Package http provides the Streamable HTTP transport adapter (component F):
// POST/GET/DELETE dispatch into the hub core, session lifecycle, and the
// ambient health/metrics endpoints every inbound adapter carries.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics the HTTP transport records.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveSessions   prometheus.Gauge
	SSEConnections   prometheus.Gauge
	NotificationsSent prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hatago",
				Name:      "requests_total",
				Help:      "Total number of JSON-RPC requests processed",
			},
			[]string{"method", "status"}, // method=POST/GET/DELETE, status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "hatago",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hatago",
				Name:      "active_sessions",
				Help:      "Number of active downstream sessions",
			},
		),
		SSEConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hatago",
				Name:      "sse_connections",
				Help:      "Number of open GET-SSE streams",
			},
		),
		NotificationsSent: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "hatago",
				Name:      "notifications_sent_total",
				Help:      "Total server-initiated notifications pushed over SSE",
			},
		),
	}
}
