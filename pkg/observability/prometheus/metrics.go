package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the default Prometheus registry.
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer.
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "tacore"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds the broker's Prometheus metrics.
type Metrics struct {
	// Request routing metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Dispatch path metrics
	DispatchedTotal prometheus.Counter
	QueuedTotal     prometheus.Counter
	RejectedTotal   prometheus.Counter
	MalformedTotal  prometheus.Counter

	// Worker pool metrics
	WorkersIdle     prometheus.Gauge
	WorkersActive   prometheus.Gauge
	QueueDepth      prometheus.Gauge
	EvictionsTotal  prometheus.Counter
	HeartbeatsTotal prometheus.Counter
}

// GetMetrics returns the global metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a new metrics collection on the given registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}

	return &Metrics{
		RequestsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tacore_requests_total",
				Help: "Total number of requests routed, by method and final status",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tacore_request_duration_seconds",
				Help:    "Dispatch-to-reply duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		DispatchedTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "tacore_dispatched_total",
				Help: "Total number of requests dispatched to workers",
			},
		),
		QueuedTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "tacore_queued_total",
				Help: "Total number of requests held in the pending queue",
			},
		),
		RejectedTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "tacore_rejected_total",
				Help: "Total number of requests rejected with Overloaded",
			},
		),
		MalformedTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "tacore_malformed_frames_total",
				Help: "Total number of malformed frames dropped",
			},
		),
		WorkersIdle: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "tacore_workers_idle",
				Help: "Number of idle workers in the availability pool",
			},
		),
		WorkersActive: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "tacore_workers_active",
				Help: "Number of workers currently processing a request",
			},
		),
		QueueDepth: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "tacore_queue_depth",
				Help: "Current pending-queue depth",
			},
		),
		EvictionsTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "tacore_worker_evictions_total",
				Help: "Total number of workers evicted for missed heartbeats",
			},
		),
		HeartbeatsTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "tacore_worker_heartbeats_total",
				Help: "Total number of worker heartbeats received",
			},
		),
	}
}

// RecordRequest records a completed request with its final status.
func (m *Metrics) RecordRequest(method, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// UpdatePool updates the worker pool gauges.
func (m *Metrics) UpdatePool(idle, active, queueDepth int) {
	m.WorkersIdle.Set(float64(idle))
	m.WorkersActive.Set(float64(active))
	m.QueueDepth.Set(float64(queueDepth))
}
