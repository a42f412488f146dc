// Package metrics provides Prometheus metrics for the archival engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the Prometheus registry for all coldfront metrics.
var Registry = prometheus.NewRegistry()

// EngineMetrics holds the facts the consistency engine reports.
type EngineMetrics struct {
	RecordsExamined prometheus.Counter
	RecordsMigrated prometheus.Counter
	RecordsFailed   prometheus.Counter
	RecordsRestored prometheus.Counter

	ResolveTotal *prometheus.CounterVec // labels: source (live|cold)
	ResolveMiss  prometheus.Counter

	CorruptionDetected prometheus.Counter
	EntriesReconciled  prometheus.Counter
	EntriesDiscarded   prometheus.Counter

	RunDurationSeconds prometheus.Gauge
	RunsRejected       prometheus.Counter

	LiveRecords     prometheus.Gauge
	ArchivedRecords prometheus.Gauge
}

// New initializes all engine metrics on the given registry; the CLI
// passes Registry, tests pass a fresh one.
func New(reg prometheus.Registerer) *EngineMetrics {
	return &EngineMetrics{
		RecordsExamined: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldfront_records_examined_total",
			Help: "Records examined as archival candidates",
		}),
		RecordsMigrated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldfront_records_migrated_total",
			Help: "Records successfully migrated to the cold tier",
		}),
		RecordsFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldfront_records_failed_total",
			Help: "Records that exhausted their migration retry budget",
		}),
		RecordsRestored: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldfront_records_restored_total",
			Help: "Records restored from the cold tier to the live tier",
		}),
		ResolveTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "coldfront_resolve_total",
			Help: "Resolved reads by source tier",
		}, []string{"source"}),
		ResolveMiss: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldfront_resolve_miss_total",
			Help: "Reads that found the identifier in neither tier",
		}),
		CorruptionDetected: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldfront_corruption_detected_total",
			Help: "Cold-tier checksum mismatches detected on read",
		}),
		EntriesReconciled: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldfront_entries_reconciled_total",
			Help: "Stale index entries completed by the reconciler",
		}),
		EntriesDiscarded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldfront_entries_discarded_total",
			Help: "Stale index entries discarded (cold write never completed)",
		}),
		RunDurationSeconds: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "coldfront_run_duration_seconds",
			Help: "Duration of the most recent archival run",
		}),
		RunsRejected: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldfront_runs_rejected_total",
			Help: "Run attempts rejected because another run held the lock",
		}),
		LiveRecords: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "coldfront_live_records",
			Help: "Records currently in the live tier",
		}),
		ArchivedRecords: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "coldfront_archived_records",
			Help: "Index entries currently tracking archived records",
		}),
	}
}
