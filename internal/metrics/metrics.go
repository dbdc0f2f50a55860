package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evolab/gactl/internal/model"
)

const namespace = "gactl"

// Metrics holds the collectors of the daemon.
type Metrics struct {
	gatherer prometheus.Gatherer

	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	running      prometheus.Gauge
	runDuration  *prometheus.HistogramVec
	rejections   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors in reg. Use prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		// Labels: none
		runsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "runs_started_total",
			Help:      "Optimizer runs which reached the running state",
		}),
		// Labels: outcome (completed, stopped, failed, launch_failure, termination_failure)
		runsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "runs_finished_total",
			Help:      "Finished optimizer runs by outcome",
		}, []string{"outcome"}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "running",
			Help:      "1 while the optimizer runs",
		}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "run_duration_seconds",
			Help:      "Wall time of optimizer runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"outcome"}),
		// Labels: kind (AlreadyRunning, NotRunning, ConfigLocked, ...)
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "rejections_total",
			Help:      "Supervisor operations rejected by error kind",
		}, []string{"kind"}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RunStarted implements service.Observer.
func (m *Metrics) RunStarted(_ context.Context, _ model.RunInfo) {
	m.runsStarted.Inc()
	m.running.Set(1)
}

// RunFinished implements service.Observer.
func (m *Metrics) RunFinished(_ context.Context, res model.RunResult) {
	m.running.Set(0)
	m.runsFinished.WithLabelValues(res.Outcome).Inc()
	m.runDuration.WithLabelValues(res.Outcome).Observe(res.Duration().Seconds())
}

// Rejected counts an operation refused with an error of the given kind.
func (m *Metrics) Rejected(kind string) {
	if kind == "" {
		kind = "Internal"
	}
	m.rejections.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(seconds)
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
