package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Payout run counters and gateway latency.

var (
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "masspay",
		Subsystem: "controller",
		Name:      "submissions_total",
		Help:      "Submission attempts by result",
	}, []string{"result"})

	BatchOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "masspay",
		Subsystem: "controller",
		Name:      "batch_outcomes_total",
		Help:      "Finished batches by final status",
	}, []string{"status"})

	RecipientsPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "masspay",
		Subsystem: "controller",
		Name:      "recipients_paid_total",
		Help:      "Recipients in batches that completed on chain",
	})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "masspay",
		Subsystem: "controller",
		Name:      "run_duration_seconds",
		Help:      "Wall time from start to done of a payout run",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	})

	EstimationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "masspay",
		Subsystem: "gas",
		Name:      "estimation_failures_total",
		Help:      "Gas estimates that fell back to zero",
	})

	GatewayCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "masspay",
		Subsystem: "gateway",
		Name:      "call_duration_seconds",
		Help:      "Bundler and paymaster JSON-RPC latency",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"method", "result"})
)

// ObserveGatewayCall records one JSON-RPC call started at start.
func ObserveGatewayCall(method string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	GatewayCallDuration.WithLabelValues(method, result).Observe(time.Since(start).Seconds())
}
