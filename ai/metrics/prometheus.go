// Package metrics provides Prometheus metrics export for the agent pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports pipeline metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	runsDropped   prometheus.Counter
	stageLatency  *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	logsWritten   *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one).
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds).
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewExporter creates a new Prometheus metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repnote_pipeline_runs_total",
			Help: "Completed pipeline runs by classified intent.",
		}, []string{"intent"}),
		runsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repnote_pipeline_runs_dropped_total",
			Help: "Inputs dropped because a run was already active.",
		}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repnote_pipeline_stage_seconds",
			Help:    "Latency of individual pipeline stages.",
			Buckets: cfg.LatencyBuckets,
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repnote_pipeline_stage_failures_total",
			Help: "Pipeline stage failures by stage.",
		}, []string{"stage"}),
		logsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repnote_workout_logs_written_total",
			Help: "Workout log writes by outcome (merged or inserted).",
		}, []string{"outcome"}),
	}

	registry.MustRegister(e.runsTotal, e.runsDropped, e.stageLatency, e.stageFailures, e.logsWritten)
	return e
}

func (e *Exporter) ObserveRun(intent string) {
	e.runsTotal.WithLabelValues(intent).Inc()
}

func (e *Exporter) ObserveDropped() {
	e.runsDropped.Inc()
}

func (e *Exporter) ObserveStage(stage string, duration time.Duration) {
	e.stageLatency.WithLabelValues(stage).Observe(duration.Seconds())
}

func (e *Exporter) ObserveFailure(stage string) {
	e.stageFailures.WithLabelValues(stage).Inc()
}

func (e *Exporter) ObserveLogWritten(merged bool) {
	outcome := "inserted"
	if merged {
		outcome = "merged"
	}
	e.logsWritten.WithLabelValues(outcome).Inc()
}

// Handler returns the HTTP handler exposing the registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
