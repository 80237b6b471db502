// Package metrics declares the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gear_rental_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gear_rental_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gear_rental_errors_total",
			Help: "Total number of error responses by type",
		},
		[]string{"type"},
	)

	// Ledger metrics
	requestsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gear_rental_requests_created_total",
			Help: "Total number of rental requests created",
		},
	)

	conflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gear_rental_conflicts_total",
			Help: "Total number of operations rejected by a booking conflict",
		},
		[]string{"operation"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gear_rental_request_transitions_total",
			Help: "Total number of request status transitions",
		},
		[]string{"from", "to"},
	)

	// Session metrics
	sessionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gear_rental_sessions_created_total",
			Help: "Total number of sessions issued",
		},
	)

	sessionsRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gear_rental_sessions_removed_total",
			Help: "Total number of sessions removed by reason",
		},
		[]string{"reason"},
	)

	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gear_rental_events_published_total",
			Help: "Total number of domain events published by outcome",
		},
		[]string{"type", "outcome"},
	)
)

// IncError counts an error response; kind is client_error or server_error.
func IncError(kind string) { errorsTotal.WithLabelValues(kind).Inc() }

// IncRequestsCreated counts a committed rental request.
func IncRequestsCreated() { requestsCreatedTotal.Inc() }

// IncConflict counts an operation rejected because gear was booked.
func IncConflict(operation string) { conflictsTotal.WithLabelValues(operation).Inc() }

// IncTransition counts a status change of a request.
func IncTransition(from, to string) { transitionsTotal.WithLabelValues(from, to).Inc() }

// IncSessionsCreated counts an issued session.
func IncSessionsCreated() { sessionsCreatedTotal.Inc() }

// AddSessionsRemoved counts n removed sessions; reason is logout,
// expired, cleanup or revoked.
func AddSessionsRemoved(reason string, n int64) {
	if n > 0 {
		sessionsRemovedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// IncEventPublished counts a publish attempt.
func IncEventPublished(eventType string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	eventsPublishedTotal.WithLabelValues(eventType, outcome).Inc()
}
