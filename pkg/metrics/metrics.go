package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resourcesync_queue_depth",
			Help: "Number of frames currently enqueued, by queue name",
		},
		[]string{"queue"},
	)

	CommandsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resourcesync_commands_processed_total",
			Help: "Total number of command frames processed, by command id and status",
		},
		[]string{"command", "status"},
	)

	CommandProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resourcesync_command_processing_duration_seconds",
			Help:    "Time taken by CommandProcessor.DrainOne to process one command",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// Pipeline metrics
	PipelineCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resourcesync_pipeline_commit_duration_seconds",
			Help:    "Time taken to commit an entity mutation through the pipeline",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type", "operation"},
	)

	DeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resourcesync_dead_lettered_total",
			Help: "Total number of commands dead-lettered, by entity type",
		},
		[]string{"type"},
	)

	// Synchronizer metrics
	SyncCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resourcesync_sync_cycle_duration_seconds",
			Help:    "Time taken for one synchronize_with_source pass, by entity type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	SyncCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resourcesync_sync_cycles_total",
			Help: "Total number of synchronize_with_source passes completed, by result",
		},
		[]string{"result"},
	)

	// Replay metrics
	ReplayLagRevisions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "resourcesync_replay_lag_revisions",
			Help: "Difference between the entity store's max revision and the last replayed revision",
		},
	)

	ReplayPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resourcesync_replay_pass_duration_seconds",
			Help:    "Time taken for one change-replay pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplayFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resourcesync_replay_failures_total",
			Help: "Total number of replay passes that halted on a writeback failure",
		},
	)

	// Compaction metrics
	CompactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resourcesync_compaction_duration_seconds",
			Help:    "Time taken to compact one entity type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	RevisionsCompactedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resourcesync_revisions_compacted_total",
			Help: "Total number of superseded revisions removed by compaction, by entity type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(CommandsProcessedTotal)
	prometheus.MustRegister(CommandProcessingDuration)
	prometheus.MustRegister(PipelineCommitDuration)
	prometheus.MustRegister(DeadLetteredTotal)
	prometheus.MustRegister(SyncCycleDuration)
	prometheus.MustRegister(SyncCyclesTotal)
	prometheus.MustRegister(ReplayLagRevisions)
	prometheus.MustRegister(ReplayPassDuration)
	prometheus.MustRegister(ReplayFailuresTotal)
	prometheus.MustRegister(CompactionDuration)
	prometheus.MustRegister(RevisionsCompactedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
