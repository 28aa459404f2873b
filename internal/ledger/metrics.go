package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// OpsTotal counts ledger appends by entry type.
	OpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crewpay",
			Name:      "ledger_entries_total",
			Help:      "Total ledger entries appended by type.",
		},
		[]string{"type"},
	)

	// OpDuration observes append latency by entry type.
	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crewpay",
			Name:      "ledger_append_duration_seconds",
			Help:      "Ledger append duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)

	// IntegrityViolationsTotal counts job-balance integrity check failures.
	// Any increment here is an operator incident, not a business outcome.
	IntegrityViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crewpay",
			Name:      "ledger_integrity_violations_total",
			Help:      "Total job-balance integrity violations detected.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OpsTotal,
		OpDuration,
		IntegrityViolationsTotal,
	)
}

// observeOp increments the operation counter and returns a function to observe duration.
func observeOp(opType string) func() {
	OpsTotal.WithLabelValues(opType).Inc()
	start := time.Now()
	return func() {
		OpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}
