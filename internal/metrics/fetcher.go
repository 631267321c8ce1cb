package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetcher",
		Name:      "rpc_calls_total",
		Help:      "Count of logical RPC calls, after retries.",
	}, []string{"method", "status"})

	rpcCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fetcher",
		Name:      "rpc_call_duration_seconds",
		Help:      "Duration of logical RPC calls including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status"})

	rpcAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fetcher",
		Name:      "rpc_call_attempts",
		Help:      "Number of attempts needed per logical RPC call.",
		Buckets:   []float64{1, 2, 3, 5, 8, 10},
	}, []string{"method"})

	traceDegradationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetcher",
		Name:      "trace_degradations_total",
		Help:      "Count of blocks whose bulk trace call failed and fell back to per-transaction calls.",
	}, []string{"strategy"})
)

// Fetcher tracks metrics for chain data fetching.
type Fetcher struct{}

// NewFetcher constructs a Fetcher collector.
func NewFetcher() Fetcher {
	return Fetcher{}
}

// ObserveCall records a logical RPC call outcome, its attempts and duration.
func (Fetcher) ObserveCall(method string, err error, attempts int, started time.Time) {
	status := statusOf(err)
	rpcCallsTotal.WithLabelValues(method, status).Inc()
	rpcCallDuration.WithLabelValues(method, status).Observe(time.Since(started).Seconds())
	rpcAttempts.WithLabelValues(method).Observe(float64(attempts))
}

// ObserveTraceDegradation records a bulk trace fallback.
func (Fetcher) ObserveTraceDegradation(strategy string) {
	traceDegradationsTotal.WithLabelValues(strategy).Inc()
}
