package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	liveChannels prometheus.Gauge
	droppedJobs  prometheus.Counter
}

// NewMetrics registers collectors on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "civic_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_http_errors_total",
			Help: "Error responses by domain error code.",
		}, []string{"path", "method", "code"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_issue_operations_total",
			Help: "Issue lifecycle operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_notification_deliveries_total",
			Help: "Notification payload sends by target kind and outcome.",
		}, []string{"target", "outcome"}),
		liveChannels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "civic_realtime_channels",
			Help: "Currently registered real-time channels.",
		}),
		droppedJobs: factory.NewCounter(prometheus.CounterOpts{
			Name: "civic_notification_jobs_dropped_total",
			Help: "Notification jobs dropped because the worker queue was full.",
		}),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordOperation counts an issue operation such as "transition" or "assign".
func (m *Metrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

// RecordDelivery counts a single channel send.
func (m *Metrics) RecordDelivery(target string, delivered bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if !delivered {
		outcome = "failed"
	}
	m.deliveries.WithLabelValues(target, outcome).Inc()
}

// SetLiveChannels reports the registry size.
func (m *Metrics) SetLiveChannels(n int) {
	if m == nil {
		return
	}
	m.liveChannels.Set(float64(n))
}

// RecordDroppedJob counts a notification job rejected by a full queue.
func (m *Metrics) RecordDroppedJob() {
	if m == nil {
		return
	}
	m.droppedJobs.Inc()
}
