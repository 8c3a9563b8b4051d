package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gift"

// Orders records order workflow outcomes. A nil *Orders is a no-op.
type Orders struct {
	total    *prometheus.CounterVec   // orders_total{outcome}
	attempts *prometheus.CounterVec   // order_attempts_total{result}
	notify   *prometheus.HistogramVec // notification_duration_seconds{outcome}
}

func NewOrders(reg prometheus.Registerer) *Orders {
	m := &Orders{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_total",
			Help: "Order placement calls by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_attempts_total",
			Help: "Transactional order attempts by result.",
		}, []string{"result"}),
		notify: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "notification_duration_seconds",
			Help:    "Latency of order confirmation messages.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.total, m.attempts, m.notify)
	return m
}

func (m *Orders) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.total.WithLabelValues(outcome).Inc()
}

func (m *Orders) Attempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

func (m *Orders) Notification(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.notify.WithLabelValues(outcome).Observe(d.Seconds())
}

// HTTP records request counts and latency with low-cardinality route labels.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	m := &HTTP{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *HTTP) Observe(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, status).Inc()
	m.duration.WithLabelValues(method, route).Observe(d.Seconds())
}
