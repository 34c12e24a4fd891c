// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline bundles the collectors updated by the orchestrator and scheduler.
type Pipeline struct {
	CyclesTotal     prometheus.Counter
	CycleFailures   prometheus.Counter
	RecordsFound    prometheus.Counter
	RecordsInserted prometheus.Counter
	RecordsUpdated  prometheus.Counter
	RecordsSkipped  prometheus.Counter
	CycleDuration   prometheus.Histogram
	CatalogSize     prometheus.Gauge
}

// New registers the pipeline collectors with the given registerer.
func New(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)
	return &Pipeline{
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "citypulse_cycles_total",
			Help: "Completed sync cycles.",
		}),
		CycleFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "citypulse_cycle_failures_total",
			Help: "Sync cycles that ended in an unrecovered error.",
		}),
		RecordsFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "citypulse_records_found_total",
			Help: "Raw records observed across all sources.",
		}),
		RecordsInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "citypulse_records_inserted_total",
			Help: "Upserts that created a new catalog row.",
		}),
		RecordsUpdated: factory.NewCounter(prometheus.CounterOpts{
			Name: "citypulse_records_updated_total",
			Help: "Upserts that replaced an existing catalog row.",
		}),
		RecordsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "citypulse_records_skipped_total",
			Help: "Records dropped because of per-record processing errors.",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "citypulse_cycle_duration_seconds",
			Help:    "Wall-clock duration of one sync cycle.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		CatalogSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "citypulse_catalog_size",
			Help: "Total records in the catalog after the latest cycle.",
		}),
	}
}
