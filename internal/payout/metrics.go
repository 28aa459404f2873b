package payout

import "github.com/prometheus/client_golang/prometheus"

var (
	// ReleasesTotal counts release invocations by outcome (released,
	// already_released, a refusal code, or error).
	ReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crewpay",
			Name:      "payout_releases_total",
			Help:      "Total release invocations by outcome.",
		},
		[]string{"outcome"},
	)

	// LegFailuresTotal counts failed transfer legs by role. Failed legs are
	// retriable but need operator attention if they persist.
	LegFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crewpay",
			Name:      "payout_leg_failures_total",
			Help:      "Total failed transfer legs by role.",
		},
		[]string{"role"},
	)
)

func init() {
	prometheus.MustRegister(
		ReleasesTotal,
		LegFailuresTotal,
	)
}
