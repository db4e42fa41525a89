// Package metrics exposes print job metrics on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metric names.
const (
	MetricPrintJobsTotal          = "label_api_print_jobs_total"
	MetricPrintJobDurationSeconds = "label_api_print_job_duration_seconds"
	MetricPrinterBusy             = "label_api_printer_busy"
)

// Job outcomes used as the outcome label.
const (
	OutcomePrinted = "printed"
	OutcomeFailed  = "failed"
	OutcomeBusy    = "busy"
	OutcomeInvalid = "invalid"
)

// Metrics records print job outcomes. The zero value is not usable; a nil
// *Metrics is a valid no-op recorder.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal   *prometheus.CounterVec
	jobDuration prometheus.Histogram
	printerBusy prometheus.Gauge
}

func New() *Metrics {
	// private registry, so tests and embedders never collide on the default one
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrintJobsTotal,
				Help: "Total number of print submissions by outcome.",
			},
			[]string{"outcome"},
		),
		jobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricPrintJobDurationSeconds,
				Help:    "Duration of admitted print jobs from decode to device acknowledgment.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		printerBusy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricPrinterBusy,
				Help: "1 while a print job holds the printer, 0 otherwise.",
			},
		),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.printerBusy,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, outcome := range []string{OutcomePrinted, OutcomeFailed, OutcomeBusy, OutcomeInvalid} {
		m.jobsTotal.WithLabelValues(outcome)
	}

	return m
}

func (m *Metrics) JobAdmitted() {
	if m == nil {
		return
	}
	m.printerBusy.Set(1)
}

// JobFinished records an admitted job. It must be called before the printer
// is released so the busy gauge never reads 0 while a job is in flight.
func (m *Metrics) JobFinished(printed bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeFailed
	if printed {
		outcome = OutcomePrinted
	}
	m.jobsTotal.WithLabelValues(outcome).Inc()
	m.jobDuration.Observe(duration.Seconds())
	m.printerBusy.Set(0)
}

func (m *Metrics) JobRejectedBusy() {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(OutcomeBusy).Inc()
}

func (m *Metrics) JobInvalid() {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(OutcomeInvalid).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
		Timeout:  10 * time.Second,
	})
}
