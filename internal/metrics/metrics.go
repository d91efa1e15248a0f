// Package metrics exposes Prometheus instrumentation for the monitoring
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EmailsProcessed counts emails ingested through the pipeline, by
	// classification outcome.
	EmailsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailsentinel",
		Name:      "emails_processed_total",
		Help:      "Number of emails ingested and analyzed",
	}, []string{"classification"})

	// ThreatsDetected counts threats recorded, by type and severity.
	ThreatsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailsentinel",
		Name:      "threats_detected_total",
		Help:      "Number of threats recorded",
	}, []string{"type", "severity"})

	// SyncDuration observes full mailbox sync latency.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mailsentinel",
		Name:      "sync_duration_seconds",
		Help:      "Duration of mailbox sync runs",
		Buckets:   prometheus.DefBuckets,
	})

	// HTTPRequests counts API requests by method, path, and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailsentinel",
		Name:      "http_requests_total",
		Help:      "Number of API requests served",
	}, []string{"method", "path", "status"})

	// ConnectedViewers tracks live dashboard WebSocket connections.
	ConnectedViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mailsentinel",
		Name:      "connected_viewers",
		Help:      "Number of connected dashboard viewers",
	})
)
