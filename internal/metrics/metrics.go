// Package metrics holds the Prometheus instruments for crawl runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace is the namespace for all scraper metrics.
	MetricsNamespace = "trustpilot_scraper"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	PagesFetched       *prometheus.CounterVec
	FetchFailures      *prometheus.CounterVec
	ExtractionFailures *prometheus.CounterVec
	TasksEmitted       *prometheus.CounterVec
	RecordsEmitted     prometheus.Counter
	RecordsDropped     *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
	FrontierDepth      prometheus.Gauge
	RunsTotal          *prometheus.CounterVec
	RunsActive         prometheus.Gauge
}

// NewMetrics creates and registers all metrics on reg, or on the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initCrawlMetrics(factory)
	m.initRunMetrics(factory)

	return m
}

func (m *Metrics) initCrawlMetrics(factory promauto.Factory) {
	m.PagesFetched = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "crawl",
			Name:      "pages_fetched_total",
			Help:      "Pages fetched successfully, by page role",
		},
		[]string{"role"},
	)

	m.FetchFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "crawl",
			Name:      "fetch_failures_total",
			Help:      "Pages that could not be fetched, by page role",
		},
		[]string{"role"},
	)

	m.ExtractionFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "crawl",
			Name:      "extraction_failures_total",
			Help:      "Pages dropped because extraction failed, by page role",
		},
		[]string{"role"},
	)

	m.TasksEmitted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "crawl",
			Name:      "tasks_emitted_total",
			Help:      "Follow-up tasks emitted, by target page role",
		},
		[]string{"role"},
	)

	m.RecordsEmitted = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "crawl",
			Name:      "records_emitted_total",
			Help:      "Company records handed to the sink",
		},
	)

	m.RecordsDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "pipeline",
			Name:      "records_dropped_total",
			Help:      "Records dropped by a pipeline stage",
		},
		[]string{"stage"},
	)

	m.FetchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "crawl",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching one page including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"role"},
	)

	m.FrontierDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "crawl",
			Name:      "frontier_depth",
			Help:      "Tasks waiting in the frontier",
		},
	)
}

func (m *Metrics) initRunMetrics(factory promauto.Factory) {
	m.RunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "runs",
			Name:      "finished_total",
			Help:      "Crawl runs finished, by final status",
		},
		[]string{"status"},
	)

	m.RunsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "runs",
			Name:      "active",
			Help:      "Crawl runs currently executing",
		},
	)
}

func (m *Metrics) RecordFetch(role string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(role).Observe(d.Seconds())
	if err != nil {
		m.FetchFailures.WithLabelValues(role).Inc()
		return
	}
	m.PagesFetched.WithLabelValues(role).Inc()
}

func (m *Metrics) RecordExtractionFailure(role string) {
	if m == nil {
		return
	}
	m.ExtractionFailures.WithLabelValues(role).Inc()
}

func (m *Metrics) RecordTask(role string) {
	if m == nil {
		return
	}
	m.TasksEmitted.WithLabelValues(role).Inc()
}

func (m *Metrics) RecordRecord() {
	if m == nil {
		return
	}
	m.RecordsEmitted.Inc()
}

func (m *Metrics) RecordDrop(stage string) {
	if m == nil {
		return
	}
	m.RecordsDropped.WithLabelValues(stage).Inc()
}

func (m *Metrics) SetFrontierDepth(n int) {
	if m == nil {
		return
	}
	m.FrontierDepth.Set(float64(n))
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsActive.Inc()
}

func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.RunsActive.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
}
