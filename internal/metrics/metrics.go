// Package metrics exposes run outcomes as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alfredjeanlab/listings/internal/model"
)

const namespace = "listings_ingest"

// Metrics holds the collectors of one process on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	lastRunTimestamp prometheus.Gauge
	sourceRecords    *prometheus.CounterVec
	sourceFailures   *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	unknownCategory  *prometheus.CounterVec
	dedup            *prometheus.CounterVec
	sourceUp         *prometheus.GaugeVec
	sourceDuration   *prometheus.GaugeVec
}

// New registers every collector, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Completed ingestion runs by status",
	}, []string{"status"})
	m.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of ingestion runs",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})
	m.lastRunTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the last completed run",
	})
	m.sourceRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_total",
		Help:      "Records per source by outcome (fetched, inserted, updated, deactivated, write_failed)",
	}, []string{"source", "outcome"})
	m.sourceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_failures_total",
		Help:      "Runs in which a source failed",
	}, []string{"source"})
	m.rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "normalization_rejections_total",
		Help:      "Records rejected by the normalizer by reason",
	}, []string{"source", "reason"})
	m.unknownCategory = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unknown_categories_total",
		Help:      "Records whose category fell back to other",
	}, []string{"source"})
	m.dedup = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dedup_total",
		Help:      "Deduplication outcomes per source (dropped, merged, conflict)",
	}, []string{"source", "outcome"})
	m.sourceUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "source_up",
		Help:      "1 if the source succeeded in the last run, 0 otherwise",
	}, []string{"source"})
	m.sourceDuration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "source_duration_seconds",
		Help:      "Time the source took in the last run",
	}, []string{"source"})

	m.registry.MustRegister(
		m.runsTotal, m.runDuration, m.lastRunTimestamp,
		m.sourceRecords, m.sourceFailures, m.rejections, m.unknownCategory, m.dedup,
		m.sourceUp, m.sourceDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(s *model.Summary) {
	m.runsTotal.WithLabelValues(s.Status()).Inc()
	m.runDuration.Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
	m.lastRunTimestamp.Set(float64(s.FinishedAt.Unix()))

	for _, r := range s.Reports {
		add := func(outcome string, n int) {
			if n > 0 {
				m.sourceRecords.WithLabelValues(r.SourceName, outcome).Add(float64(n))
			}
		}
		add("fetched", r.FetchedCount)
		add("inserted", r.InsertedCount)
		add("updated", r.UpdatedCount)
		add("deactivated", r.DeactivatedCount)
		add("write_failed", r.WriteFailures)

		for reason, n := range r.NormalizationFailures {
			m.rejections.WithLabelValues(r.SourceName, string(reason)).Add(float64(n))
		}
		if r.UnknownCategories > 0 {
			m.unknownCategory.WithLabelValues(r.SourceName).Add(float64(r.UnknownCategories))
		}

		if r.DuplicatesDropped > 0 {
			m.dedup.WithLabelValues(r.SourceName, "dropped").Add(float64(r.DuplicatesDropped))
		}
		if r.Merged > 0 {
			m.dedup.WithLabelValues(r.SourceName, "merged").Add(float64(r.Merged))
		}
		if r.DedupConflicts > 0 {
			m.dedup.WithLabelValues(r.SourceName, "conflict").Add(float64(r.DedupConflicts))
		}

		up := 1.0
		if r.Failed {
			up = 0
			m.sourceFailures.WithLabelValues(r.SourceName).Inc()
		}
		m.sourceUp.WithLabelValues(r.SourceName).Set(up)
		m.sourceDuration.WithLabelValues(r.SourceName).Set(r.Duration.Seconds())
	}
}
