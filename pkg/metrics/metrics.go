package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cursor metrics
	CursorConfirmedBefore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanarchiver_cursor_confirmed_before_unix",
			Help: "Local confirmed_before position as unix seconds, by stream and migration",
		},
		[]string{"stream", "migration"},
	)

	CursorRemoteConfirmedBefore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanarchiver_cursor_remote_confirmed_before_unix",
			Help: "Remote confirmed_before position as unix seconds, by stream and migration",
		},
		[]string{"stream", "migration"},
	)

	CursorCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanarchiver_cursor_commits_total",
			Help: "Total cursor states persisted by the cursor store",
		},
		[]string{"stream"},
	)

	CursorRollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanarchiver_cursor_rollbacks_total",
			Help: "Total cursor transaction rollbacks",
		},
		[]string{"stream"},
	)

	CursorCorruptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanarchiver_cursor_corruptions_total",
			Help: "Total times a cursor load fell back to backup or zero-value",
		},
		[]string{"stream", "fallback"},
	)

	// Writer pool metrics
	WriterJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanarchiver_writer_jobs_total",
			Help: "Total write jobs processed by the writer pool",
		},
		[]string{"type", "result"},
	)

	WriterJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanarchiver_writer_job_duration_seconds",
			Help:    "Time to convert a record batch into a columnar file",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	WriterRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanarchiver_writer_rows_total",
			Help: "Total rows written across all writer jobs",
		},
		[]string{"type"},
	)

	// Upload queue metrics
	UploadsAttemptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanarchiver_upload_attempted_total",
			Help: "Total upload attempts including retries",
		},
	)

	UploadsSucceededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanarchiver_upload_succeeded_total",
			Help: "Total successful uploads",
		},
	)

	UploadsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanarchiver_upload_failed_total",
			Help: "Total uploads that exhausted retries or hit a permanent error",
		},
	)

	UploadRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanarchiver_upload_retries_total",
			Help: "Total upload retry attempts",
		},
	)

	UploadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanarchiver_upload_bytes_total",
			Help: "Total bytes successfully uploaded",
		},
	)

	UploadQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanarchiver_upload_queue_depth",
			Help: "Current number of queued upload entries",
		},
	)

	UploadQueueBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanarchiver_upload_queue_bytes",
			Help: "Current byte total of queued upload entries",
		},
	)

	UploadQueuePaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanarchiver_upload_queue_paused",
			Help: "Whether the upload queue is applying back-pressure (1 = paused)",
		},
	)

	UploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanarchiver_upload_duration_seconds",
			Help:    "Time spent per upload attempt including integrity verification",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeadLetterEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanarchiver_dead_letter_entries_total",
			Help: "Total entries appended to the dead-letter log",
		},
	)

	// Backfill engine metrics
	BackfillSlicesCompleted = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanarchiver_backfill_slices_completed",
			Help: "Number of completed slices in the current backfill run, by migration",
		},
		[]string{"migration"},
	)

	BackfillSliceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanarchiver_backfill_slice_duration_seconds",
			Help:    "Time to fully process one backfill slice",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"migration"},
	)

	BackfillDedupedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanarchiver_backfill_deduped_total",
			Help: "Updates suppressed by the seen-ID dedup set",
		},
		[]string{"migration"},
	)

	// Live engine metrics
	LivePollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanarchiver_live_polls_total",
			Help: "Total poll cycles run by the live engine",
		},
	)

	LiveLagSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanarchiver_live_lag_seconds",
			Help: "Seconds between now and the newest effective_at of the live engine's last committed poll",
		},
	)

	// ACS engine metrics
	ACSSnapshotsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanarchiver_acs_snapshots_completed_total",
			Help: "Total ACS snapshots that reached a _COMPLETE marker",
		},
		[]string{"migration"},
	)

	ACSContractsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanarchiver_acs_contracts_written_total",
			Help: "Total ACS contracts normalized and written",
		},
		[]string{"migration"},
	)

	// Partition-repair metrics
	RepairActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanarchiver_repair_actions_total",
			Help: "Partition-repair actions classified, by action kind",
		},
		[]string{"action"},
	)

	RepairVerificationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scanarchiver_repair_verification_failures_total",
			Help: "Moved files whose post-move verification sample found a misplaced row",
		},
	)
)

func init() {
	prometheus.MustRegister(CursorConfirmedBefore)
	prometheus.MustRegister(CursorRemoteConfirmedBefore)
	prometheus.MustRegister(CursorCommitsTotal)
	prometheus.MustRegister(CursorRollbacksTotal)
	prometheus.MustRegister(CursorCorruptionsTotal)

	prometheus.MustRegister(WriterJobsTotal)
	prometheus.MustRegister(WriterJobDuration)
	prometheus.MustRegister(WriterRowsTotal)

	prometheus.MustRegister(UploadsAttemptedTotal)
	prometheus.MustRegister(UploadsSucceededTotal)
	prometheus.MustRegister(UploadsFailedTotal)
	prometheus.MustRegister(UploadRetriesTotal)
	prometheus.MustRegister(UploadBytesTotal)
	prometheus.MustRegister(UploadQueueDepth)
	prometheus.MustRegister(UploadQueueBytes)
	prometheus.MustRegister(UploadQueuePaused)
	prometheus.MustRegister(UploadDuration)
	prometheus.MustRegister(DeadLetterEntriesTotal)

	prometheus.MustRegister(BackfillSlicesCompleted)
	prometheus.MustRegister(BackfillSliceDuration)
	prometheus.MustRegister(BackfillDedupedTotal)

	prometheus.MustRegister(LivePollsTotal)
	prometheus.MustRegister(LiveLagSeconds)

	prometheus.MustRegister(ACSSnapshotsCompleted)
	prometheus.MustRegister(ACSContractsWritten)

	prometheus.MustRegister(RepairActionsTotal)
	prometheus.MustRegister(RepairVerificationFailuresTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
