package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksSyncedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backfill",
		Name:      "blocks_synced_total",
		Help:      "Count of block sync executions.",
	}, []string{"status"})

	blockSyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "backfill",
		Name:      "block_sync_duration_seconds",
		Help:      "Duration of syncing a single block.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})

	rowsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backfill",
		Name:      "rows_written_total",
		Help:      "Count of rows handed to the stores.",
	}, []string{"table"})

	rangeBlocksEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backfill",
		Name:      "range_blocks_enqueued_total",
		Help:      "Count of block jobs accepted while expanding ranges.",
	})
)

// Backfill tracks metrics for the backfill jobs.
type Backfill struct{}

// NewBackfill constructs a Backfill collector.
func NewBackfill() Backfill {
	return Backfill{}
}

// ObserveBlockSync records a block sync outcome and duration.
func (Backfill) ObserveBlockSync(err error, started time.Time) {
	status := statusOf(err)
	blocksSyncedTotal.WithLabelValues(status).Inc()
	blockSyncDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

// ObserveRows records rows handed to a table.
func (Backfill) ObserveRows(table string, n int) {
	if n > 0 {
		rowsWrittenTotal.WithLabelValues(table).Add(float64(n))
	}
}

// ObserveRangeEnqueued records block jobs accepted by a range expansion.
func (Backfill) ObserveRangeEnqueued(n int) {
	if n > 0 {
		rangeBlocksEnqueuedTotal.Add(float64(n))
	}
}
