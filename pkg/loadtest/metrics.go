package loadtest

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run state gauge values
const (
	runStarting  = 0
	runTesting   = 1
	runClosing   = 2
	runCompleted = 3
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics tracks load test statistics in a Prometheus registry of its own.
// All of its methods are safe to call on a nil *Metrics, in which case they do
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	State         prometheus.Gauge         // A code-based status metric for the run's current state.
	ActiveWorkers prometheus.Gauge         // The number of workers currently running.
	Attempts      prometheus.Counter       // The number of payloads synthesized by all workers.
	Delivered     prometheus.Counter       // The number of payloads accepted by the sink.
	Dropped       prometheus.Counter       // Payloads discarded because a worker's batch buffer was full.
	Requests      *prometheus.CounterVec   // Sink calls, by operation and result.
	Errors        *prometheus.CounterVec   // Failed sink calls, by operation and kind.
	ResponseTimes *prometheus.HistogramVec // Sink call latency, by operation.
}

// NewMetrics creates a fresh set of metrics in a new registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		State: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sinkloadtest_state",
			Help: "The current state of the load test run",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sinkloadtest_active_workers",
			Help: "The number of workers currently sending messages",
		}),
		Attempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinkloadtest_messages_attempted_total",
			Help: "The total number of payloads synthesized across all workers",
		}),
		Delivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinkloadtest_messages_delivered_total",
			Help: "The total number of payloads accepted by the message sink",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinkloadtest_messages_dropped_total",
			Help: "The total number of payloads discarded because a batch buffer was full",
		}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sinkloadtest_requests_total",
			Help: "The total number of calls made to the message sink",
		}, []string{"op", "result"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sinkloadtest_errors_total",
			Help: "The total number of failed calls to the message sink, by kind",
		}, []string{"op", "kind"}),
		ResponseTimes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sinkloadtest_request_duration_seconds",
			Help:    "The time taken by calls to the message sink",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"op"}),
	}
}

// Registry exposes the underlying registry, e.g. for testing.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) setState(state float64) {
	if m == nil {
		return
	}
	m.State.Set(state)
}

func (m *Metrics) workerStarted() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Inc()
}

func (m *Metrics) workerStopped() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
}

func (m *Metrics) observeAttempt() {
	if m == nil {
		return
	}
	m.Attempts.Inc()
}

func (m *Metrics) observeDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

// observeRequest records the outcome of a single sink call that carried the
// given number of messages.
func (m *Metrics) observeRequest(op string, messages int, elapsed time.Duration, kind string, failed bool) {
	if m == nil {
		return
	}
	m.ResponseTimes.WithLabelValues(op).Observe(elapsed.Seconds())
	if failed {
		m.Requests.WithLabelValues(op, resultFailure).Inc()
		m.Errors.WithLabelValues(op, kind).Inc()
		return
	}
	m.Requests.WithLabelValues(op, resultSuccess).Inc()
	m.Delivered.Add(float64(messages))
}
