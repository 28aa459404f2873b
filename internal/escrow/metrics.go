package escrow

import "github.com/prometheus/client_golang/prometheus"

var (
	// FundedTotal counts escrows moved to FUNDED (replays excluded).
	FundedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crewpay",
			Name:      "escrow_funded_total",
			Help:      "Total escrows funded.",
		},
	)
)

func init() {
	prometheus.MustRegister(FundedTotal)
}
