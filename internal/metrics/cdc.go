package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CDC message outcomes.
const (
	CDCHandled      = "handled"
	CDCRetried      = "retried"
	CDCDeadLettered = "dead_lettered"
	CDCDropped      = "dropped"
	CDCSkipped      = "skipped"
	CDCRedeliver    = "redeliver"
)

var (
	cdcMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cdc",
		Name:      "messages_total",
		Help:      "Count of change events by outcome.",
	}, []string{"topic", "outcome"})

	cdcHandleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cdc",
		Name:      "handle_duration_seconds",
		Help:      "Duration of handling a single change event.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic", "outcome"})
)

// CDC tracks metrics for the change-data-capture consumer.
type CDC struct{}

// NewCDC constructs a CDC collector.
func NewCDC() CDC {
	return CDC{}
}

// ObserveMessage records the outcome of one change event.
func (CDC) ObserveMessage(topic, outcome string, started time.Time) {
	cdcMessagesTotal.WithLabelValues(topic, outcome).Inc()
	cdcHandleDuration.WithLabelValues(topic, outcome).Observe(time.Since(started).Seconds())
}
