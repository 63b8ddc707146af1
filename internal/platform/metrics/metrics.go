// Package metrics holds the prometheus collectors for the service.
//
// All observation methods are safe on a nil *Metrics so components can run
// without a registry in tests.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowb"

// Metrics bundles the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	claims        *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	rpcDuration   *prometheus.HistogramVec
	checkins      *prometheus.CounterVec
	points        *prometheus.CounterVec
}

// New creates collectors on a fresh registry, including the Go runtime and
// process collectors.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Submitted claims by type and outcome.",
		}, []string{"type", "outcome"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "confirmations_total",
			Help:      "On-chain confirmation attempts by result.",
		}, []string{"result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "queue_depth",
			Help:      "Sponsorships waiting for a confirmation worker.",
		}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_duration_seconds",
			Help:      "Chain RPC latency by method.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		checkins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proximity",
			Name:      "checkins_total",
			Help:      "Check-in attempts by result (created, duplicate).",
		}, []string{"result"}),
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "points",
			Name:      "awarded_total",
			Help:      "Points awarded by action.",
		}, []string{"action"}),
	}

	err := errors.Join(
		reg.Register(collectors.NewGoCollector()),
		reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})),
		reg.Register(m.httpRequests),
		reg.Register(m.httpDuration),
		reg.Register(m.claims),
		reg.Register(m.confirmations),
		reg.Register(m.queueDepth),
		reg.Register(m.rpcDuration),
		reg.Register(m.checkins),
		reg.Register(m.points),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ObserveClaim(claimType, outcome string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(claimType, outcome).Inc()
}

func (m *Metrics) ObserveConfirmation(result string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(result).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) ObserveRPC(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) ObserveCheckin(result string) {
	if m == nil {
		return
	}
	m.checkins.WithLabelValues(result).Inc()
}

func (m *Metrics) AddPoints(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.points.WithLabelValues(action).Add(float64(n))
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
