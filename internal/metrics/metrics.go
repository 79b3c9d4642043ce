// Package metrics holds the Prometheus collectors for the memory engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Store metrics
	ActiveMemories   prometheus.Gauge
	PinnedMemories   prometheus.Gauge
	Inserts          prometheus.Counter
	ArchivedMemories prometheus.Counter
	ArchiveBatches   prometheus.Counter
	Deletes          prometheus.Counter
	CapacityBreaches prometheus.Counter

	// Extraction metrics
	Extractions       *prometheus.CounterVec
	ExtractionLatency prometheus.Histogram
	BatchEntries      *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveMemories: f.NewGauge(prometheus.GaugeOpts{
			Name: "gemi_memory_active",
			Help: "Number of active (non-archived) memories",
		}),
		PinnedMemories: f.NewGauge(prometheus.GaugeOpts{
			Name: "gemi_memory_pinned",
			Help: "Number of pinned active memories",
		}),
		Inserts: f.NewCounter(prometheus.CounterOpts{
			Name: "gemi_memory_inserts_total",
			Help: "Total memories inserted",
		}),
		ArchivedMemories: f.NewCounter(prometheus.CounterOpts{
			Name: "gemi_memory_archived_total",
			Help: "Total memories moved to the archive by capacity enforcement",
		}),
		ArchiveBatches: f.NewCounter(prometheus.CounterOpts{
			Name: "gemi_memory_archive_batches_total",
			Help: "Total archive batches written",
		}),
		Deletes: f.NewCounter(prometheus.CounterOpts{
			Name: "gemi_memory_deletes_total",
			Help: "Total memories permanently deleted",
		}),
		CapacityBreaches: f.NewCounter(prometheus.CounterOpts{
			Name: "gemi_memory_capacity_breaches_total",
			Help: "Mutations that left more active memories than the limit",
		}),

		Extractions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gemi_memory_extractions_total",
			Help: "Entry extractions by outcome",
		}, []string{"outcome"}), // success, degraded, unavailable

		ExtractionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gemi_memory_extraction_duration_seconds",
			Help:    "Time spent extracting one entry",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		BatchEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gemi_memory_batch_entries_total",
			Help: "Entries processed by batch extraction by status",
		}, []string{"status"}), // extracted, degraded, unavailable, canceled, failed
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetActive records the current active and pinned counts.
func (m *Metrics) SetActive(active, pinned int) {
	if m == nil {
		return
	}
	m.ActiveMemories.Set(float64(active))
	m.PinnedMemories.Set(float64(pinned))
}

// Inserted counts one insert.
func (m *Metrics) Inserted() {
	if m == nil {
		return
	}
	m.Inserts.Inc()
}

// Archived counts one archive batch of n memories.
func (m *Metrics) Archived(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ArchiveBatches.Inc()
	m.ArchivedMemories.Add(float64(n))
}

// Deleted counts n permanent deletions.
func (m *Metrics) Deleted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Deletes.Add(float64(n))
}

// CapacityBreach counts an active set left above the limit.
func (m *Metrics) CapacityBreach() {
	if m == nil {
		return
	}
	m.CapacityBreaches.Inc()
}

// Extracted records one entry extraction.
func (m *Metrics) Extracted(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Extractions.WithLabelValues(outcome).Inc()
	m.ExtractionLatency.Observe(took.Seconds())
}

// BatchEntry records the status of one entry in a batch run.
func (m *Metrics) BatchEntry(status string) {
	if m == nil {
		return
	}
	m.BatchEntries.WithLabelValues(status).Inc()
}
