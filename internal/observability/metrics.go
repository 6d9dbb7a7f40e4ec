// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Escrow metrics
	SwapsCreated      prometheus.Counter
	SwapTransitions   *prometheus.CounterVec
	SwapRejections    *prometheus.CounterVec
	CustodyFailures   *prometheus.CounterVec
	UnitOfWorkLatency *prometheus.HistogramVec

	// Outbox metrics
	EventsDelivered   prometheus.Counter
	EventsFailed      *prometheus.CounterVec
	OutboxPending     prometheus.Gauge
	PublishLatency    *prometheus.HistogramVec
	StreamSubscribers prometheus.Gauge

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulDispatch prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "swap_escrow"
	}
	factory := promauto.With(reg)

	return &Metrics{
		SwapsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "swaps_created_total",
			Help:      "Total number of swaps created",
		}),
		SwapTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "transitions_total",
			Help:      "Total number of swap transitions by resulting status",
		}, []string{"status"}),
		SwapRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "rejections_total",
			Help:      "Total number of rejected operations by operation and error",
		}, []string{"operation", "error"}),
		CustodyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "custody_failures_total",
			Help:      "Total number of failed ledger holds by reason",
		}, []string{"reason"}),
		UnitOfWorkLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "unit_of_work_seconds",
			Help:      "Duration of ledger units of work by operation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		EventsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_delivered_total",
			Help:      "Total number of outbox events delivered to every publisher",
		}),
		EventsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_failures_total",
			Help:      "Total number of failed publish attempts by publisher",
		}, []string{"publisher"}),
		OutboxPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "pending_events",
			Help:      "Number of undelivered outbox events at the last poll",
		}),
		PublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_latency_seconds",
			Help:      "Publish latency by publisher",
			Buckets:   prometheus.DefBuckets,
		}, []string{"publisher"}),
		StreamSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "stream_subscribers",
			Help:      "Number of connected event stream subscribers",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		LastSuccessfulDispatch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "last_successful_dispatch_timestamp",
			Help:      "Unix timestamp of the last dispatch cycle that delivered events",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordSwapCreated increments the swaps created counter.
func RecordSwapCreated() {
	DefaultMetrics.SwapsCreated.Inc()
}

// RecordTransition records a swap entering status.
func RecordTransition(status string) {
	DefaultMetrics.SwapTransitions.WithLabelValues(status).Inc()
}

// RecordRejection records an operation rejected with errName.
func RecordRejection(operation, errName string) {
	DefaultMetrics.SwapRejections.WithLabelValues(operation, errName).Inc()
}

// RecordCustodyFailure records a hold refused by the ledger.
func RecordCustodyFailure(reason string) {
	DefaultMetrics.CustodyFailures.WithLabelValues(reason).Inc()
}

// ObserveUnitOfWork records the duration of a ledger unit of work started at start.
func ObserveUnitOfWork(operation string, start time.Time) {
	DefaultMetrics.UnitOfWorkLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordDelivered records n events delivered.
func RecordDelivered(n int) {
	DefaultMetrics.EventsDelivered.Add(float64(n))
	DefaultMetrics.LastSuccessfulDispatch.SetToCurrentTime()
}

// RecordPublish records one publish attempt.
func RecordPublish(publisher string, seconds float64, err error) {
	DefaultMetrics.PublishLatency.WithLabelValues(publisher).Observe(seconds)
	if err != nil {
		DefaultMetrics.EventsFailed.WithLabelValues(publisher).Inc()
	}
}

// UpdateOutboxPending sets the pending outbox gauge.
func UpdateOutboxPending(n int) {
	DefaultMetrics.OutboxPending.Set(float64(n))
}

// UpdateStreamSubscribers sets the subscriber gauge.
func UpdateStreamSubscribers(n int) {
	DefaultMetrics.StreamSubscribers.Set(float64(n))
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(route, code string, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, code).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
}
