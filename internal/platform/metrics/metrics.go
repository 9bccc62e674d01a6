// Package metrics exposes the risk pipeline's Prometheus collectors. A nil
// *Metrics is valid and records nothing, so components can be built without
// a registry in tests.
package metrics

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tbrisk"

type Metrics struct {
	evaluations   *prometheus.CounterVec
	ruleTriggers  *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepPatients *prometheus.CounterVec
	triggerInline prometheus.Counter
	triggerQueued prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Patient risk evaluations by outcome.",
		}, []string{"source", "outcome"}),
		ruleTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_triggers_total",
			Help:      "Triggered rule codes.",
		}, []string{"code"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert materialization results by category.",
		}, []string{"category", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Alert notification deliveries by channel and status.",
		}, []string{"channel", "status"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of population sweeps.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		sweepPatients: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_patients_total",
			Help:      "Patients processed by the sweep by outcome.",
		}, []string{"outcome"}),
		triggerInline: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_inline_total",
			Help:      "Triggers run on the caller because the queue was full.",
		}),
		triggerQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_queued_total",
			Help:      "Triggers accepted by the dispatch queue.",
		}),
	}
	reg.MustRegister(
		m.evaluations,
		m.ruleTriggers,
		m.alerts,
		m.notifications,
		m.sweepDuration,
		m.sweepPatients,
		m.triggerInline,
		m.triggerQueued,
	)
	return m
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}

func (m *Metrics) ObserveEvaluation(source, outcome string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) ObserveRule(code string) {
	if m == nil {
		return
	}
	m.ruleTriggers.WithLabelValues(code).Inc()
}

// ObserveAlert records one category result: created, existing or failed.
func (m *Metrics) ObserveAlert(category, result string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(category, result).Inc()
}

func (m *Metrics) ObserveNotification(channel, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveSweepPatient(outcome string) {
	if m == nil {
		return
	}
	m.sweepPatients.WithLabelValues(outcome).Inc()
}

// ObserveTrigger records whether a trigger was queued or ran inline.
func (m *Metrics) ObserveTrigger(queued bool) {
	if m == nil {
		return
	}
	if queued {
		m.triggerQueued.Inc()
		return
	}
	m.triggerInline.Inc()
}
