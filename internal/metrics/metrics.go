package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "constructlink"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Transitions   *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	Conflicts     prometheus.Counter
	OverdueLoans  prometheus.Gauge
	RequestTiming *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_transitions_total",
			Help:      "Committed transfer transitions by action.",
		}, []string{"action"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_rejections_total",
			Help:      "Rejected transfer actions by action and error kind.",
		}, []string{"action", "kind"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_conflicts_total",
			Help:      "Transitions that lost a compare-and-set race.",
		}),
		OverdueLoans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overdue_loans",
			Help:      "Temporary transfers past their expected return at the last sweep.",
		}),
		RequestTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.Transitions,
		m.Rejections,
		m.Conflicts,
		m.OverdueLoans,
		m.RequestTiming,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) TransitionDone(action string) {
	m.Transitions.WithLabelValues(action).Inc()
}

func (m *Metrics) TransitionRejected(action, kind string) {
	m.Rejections.WithLabelValues(action, kind).Inc()
	if kind == "conflict" {
		m.Conflicts.Inc()
	}
}

func (m *Metrics) SetOverdue(n int) {
	m.OverdueLoans.Set(float64(n))
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.RequestTiming.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
