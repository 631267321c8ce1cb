package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "enqueued_total",
		Help:      "Count of enqueue requests by outcome (accepted, deduplicated, error).",
	}, []string{"queue", "outcome"})

	queueProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "processed_total",
		Help:      "Count of job executions.",
	}, []string{"queue", "status"})

	queueProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "process_duration_seconds",
		Help:      "Duration of a single job execution.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"queue", "status"})

	queueDeadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "dead_lettered_total",
		Help:      "Count of jobs moved to the failure channel after exhausting retries.",
	}, []string{"queue"})
)

// Queue tracks metrics for one job queue.
type Queue struct {
	name string
}

// NewQueue constructs a Queue collector for the named queue.
func NewQueue(name string) Queue {
	if name == "" {
		name = "unknown"
	}
	return Queue{name: name}
}

// ObserveEnqueue records an enqueue attempt.
func (m Queue) ObserveEnqueue(accepted bool, err error) {
	outcome := "accepted"
	switch {
	case err != nil:
		outcome = "error"
	case !accepted:
		outcome = "deduplicated"
	}
	queueEnqueuedTotal.WithLabelValues(m.name, outcome).Inc()
}

// ObserveProcess records a job execution outcome and duration.
func (m Queue) ObserveProcess(err error, started time.Time) {
	status := statusOf(err)
	queueProcessedTotal.WithLabelValues(m.name, status).Inc()
	queueProcessDuration.WithLabelValues(m.name, status).Observe(time.Since(started).Seconds())
}

// ObserveDeadLetter records a job reaching the failure channel.
func (m Queue) ObserveDeadLetter() {
	queueDeadLetteredTotal.WithLabelValues(m.name).Inc()
}
