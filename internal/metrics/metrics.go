package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calreport_records_extracted_total",
		Help: "Event records finalized by the extractor, labelled by source.",
	}, []string{"source"})

	// Anomalies counts what the tolerant parser absorbed, labelled by kind:
	// orphan_close, discarded_block, truncated_block, malformed_timestamp.
	Anomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calreport_extract_anomalies_total",
		Help: "Structural anomalies absorbed during extraction, labelled by kind.",
	}, []string{"kind"})

	SourceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calreport_source_errors_total",
		Help: "Sources that could not be loaded or decoded.",
	})

	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calreport_runs_total",
		Help: "Report pipeline runs, labelled by status (ok, partial, failed).",
	}, []string{"status"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calreport_run_duration_seconds",
		Help:    "Wall time of a report pipeline run.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	LastRunRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calreport_last_run_records",
		Help: "Number of records produced by the most recent run.",
	})
)
