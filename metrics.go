package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reasons an event was not logged, used as the reason label of the failed counter.
const (
	FailureHandler     = "handler"
	FailureRateLimited = "rate_limited"
	FailureCircuitOpen = "circuit_open"
	FailureSchema      = "schema"
)

// BusMetrics receives the outcome of every Bus.Log call.
type BusMetrics interface {
	// EventLogged is called once every handler accepted the event.
	EventLogged(et EventType)
	// EventFailed is called when the event was rejected before delivery or a
	// handler failed; reason is one of the Failure constants.
	EventFailed(et EventType, reason string)
	// HandlerLatency is called after each handler run, successful or not.
	HandlerLatency(et EventType, d time.Duration)
}

// PrometheusMetrics exports BusMetrics as Prometheus collectors.
type PrometheusMetrics struct {
	logged  *prometheus.CounterVec
	failed  *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewPrometheusMetrics registers the audit collectors on registerer, or on the
// default registerer when it is nil. It panics if they are already registered.
func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &PrometheusMetrics{
		logged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apihub_audit_events_logged_total",
				Help: "API Hub audit events accepted by every subscribed sink.",
			},
			[]string{"event_type"},
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apihub_audit_events_failed_total",
				Help: "API Hub audit events not logged: rejected by the rate limiter, the open circuit " +
					"breaker or parameter layout validation, or failed by at least one sink.",
			},
			[]string{"event_type", "reason"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apihub_audit_handler_latency_seconds",
				Help:    "Time spent in each audit sink (SQL store, file log, Kafka) per event.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
	}
	registerer.MustRegister(m.logged, m.failed, m.latency)
	return m
}

func (m *PrometheusMetrics) EventLogged(et EventType) {
	m.logged.WithLabelValues(string(et)).Inc()
}

func (m *PrometheusMetrics) EventFailed(et EventType, reason string) {
	m.failed.WithLabelValues(string(et), reason).Inc()
}

func (m *PrometheusMetrics) HandlerLatency(et EventType, d time.Duration) {
	m.latency.WithLabelValues(string(et)).Observe(d.Seconds())
}

type nopMetrics struct{}

func (nopMetrics) EventLogged(EventType)                   {}
func (nopMetrics) EventFailed(EventType, string)           {}
func (nopMetrics) HandlerLatency(EventType, time.Duration) {}
