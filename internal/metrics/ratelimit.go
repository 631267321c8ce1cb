package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	throttledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "throttled_total",
		Help:      "Count of RPC calls that had to wait for budget.",
	}, []string{"limiter", "priority"})

	throttleWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for budget before an RPC call.",
		Buckets:   []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"limiter", "priority"})

	consumedUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "compute_units_total",
		Help:      "Compute units consumed by RPC method.",
	}, []string{"method"})
)

// RateLimit tracks metrics for RPC pacing.
type RateLimit struct {
	limiter string
}

// NewRateLimit constructs a RateLimit collector labelled with limiter.
func NewRateLimit(limiter string) RateLimit {
	return RateLimit{limiter: limiter}
}

// ObserveWait records a call that waited for budget.
func (m RateLimit) ObserveWait(priority string, started time.Time) {
	throttledTotal.WithLabelValues(m.limiter, priority).Inc()
	throttleWait.WithLabelValues(m.limiter, priority).Observe(time.Since(started).Seconds())
}

// ObserveConsumed records cu consumed by method.
func (RateLimit) ObserveConsumed(method string, cu int) {
	consumedUnits.WithLabelValues(method).Add(float64(cu))
}
