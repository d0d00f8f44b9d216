package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmcleod/bankgate/internal/breaker"
)

const metricsNamespace = "bankgate"

// Metrics holds the prometheus collectors of the gateway. All methods are
// safe on a nil receiver so metrics can be switched off.
type Metrics struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	rateLimits    *prometheus.CounterVec
	loginAttempts *prometheus.CounterVec
	cacheRequests *prometheus.CounterVec
	alerts        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
			[]string{"method", "route"},
		),
		rateLimits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by a rate limit",
			},
			[]string{"scope"},
		),
		loginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "login_attempts_total",
				Help:      "Operator login attempts by result",
			},
			[]string{"result"},
		),
		cacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_requests_total",
				Help:      "Aggregation cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "alerts_total",
				Help:      "Anomaly alerts raised",
			},
			[]string{"type"},
		),
	}
	reg.MustRegister(m.requests, m.latency, m.rateLimits, m.loginAttempts, m.cacheRequests, m.alerts)
	return m
}

// RegisterBreakers exports the state of each breaker as a gauge
// (0 closed, 1 half-open, 2 open).
func RegisterBreakers(reg prometheus.Registerer, breakers map[string]BreakerStater) {
	for name, b := range breakers {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   metricsNamespace,
				Name:        "circuit_state",
				Help:        "Circuit breaker state (0=closed, 1=half-open, 2=open)",
				ConstLabels: prometheus.Labels{"breaker": name},
			},
			func() float64 { return breaker.StateValue(b.BreakerState()) },
		))
	}
}

// RegisterGauge exports fn as an unlabeled gauge.
func RegisterGauge(reg prometheus.Registerer, name, help string, fn func() float64) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: metricsNamespace, Name: name, Help: help},
		fn,
	))
}

func (m *Metrics) observeRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) rateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimits.WithLabelValues(scope).Inc()
}

func (m *Metrics) loginAttempt(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

// Alert counts a raised alert. It can be chained into an AlertFunc.
func (m *Metrics) Alert(e AlertEvent) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(string(e.Type)).Inc()
}

// CacheHit and CacheMiss make Metrics an aggcache.Observer.
func (m *Metrics) CacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(cache, "hit").Inc()
}

func (m *Metrics) CacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(cache, "miss").Inc()
}
