// Package metrics provides Prometheus metrics for the dropgate server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropgate_sessions_active",
			Help: "Number of live authenticated SFTP sessions",
		},
	)

	sessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropgate_sessions_total",
			Help: "Total number of accepted SFTP sessions",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropgate_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Protocol metrics
	sftpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropgate_sftp_requests_total",
			Help: "Total SFTP requests by operation and response status",
		},
		[]string{"op", "status"},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropgate_bytes_uploaded_total",
			Help: "Total bytes written by SFTP clients",
		},
	)

	handlesOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropgate_handles_open",
			Help: "Number of open file and directory handles across sessions",
		},
	)

	// Upload pipeline metrics
	uploadsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropgate_uploads_completed_total",
			Help: "Total completed uploads that entered the notification pipeline",
		},
	)

	webhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropgate_webhook_deliveries_total",
			Help: "Total webhook delivery attempts by result",
		},
		[]string{"result"},
	)

	webhookDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dropgate_webhook_delivery_duration_seconds",
			Help:    "Webhook delivery duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dropgate_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropgate_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SessionStarted records a new authenticated session.
func SessionStarted() {
	sessionsTotal.Inc()
	sessionsActive.Inc()
}

// SessionEnded records a session teardown.
func SessionEnded() {
	sessionsActive.Dec()
}

// RecordAuthAttempt records an authentication attempt ("ok" or "rejected").
func RecordAuthAttempt(result string) {
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordRequest records a handled SFTP request.
func RecordRequest(op, status string) {
	sftpRequestsTotal.WithLabelValues(op, status).Inc()
}

// RecordBytesUploaded adds to the uploaded-bytes counter.
func RecordBytesUploaded(n int) {
	bytesUploaded.Add(float64(n))
}

// HandleOpened increments the open-handle gauge.
func HandleOpened() { handlesOpen.Inc() }

// HandleClosed decrements the open-handle gauge.
func HandleClosed() { handlesOpen.Dec() }

// RecordUploadCompleted records an upload entering the notification pipeline.
func RecordUploadCompleted() {
	uploadsCompleted.Inc()
}

// RecordWebhookDelivery records a delivery attempt ("ok" or "failed").
func RecordWebhookDelivery(result string, d time.Duration) {
	webhookDeliveriesTotal.WithLabelValues(result).Inc()
	webhookDeliveryDuration.Observe(d.Seconds())
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, d time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(d.Seconds())
}

// SetDBConnectionsOpen sets the open database connection gauge.
func SetDBConnectionsOpen(n int) {
	dbConnectionsOpen.Set(float64(n))
}
