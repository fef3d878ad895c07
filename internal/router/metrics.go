package router

import "github.com/prometheus/client_golang/prometheus"

// outcomeCount tallies processed events by outcome reason. The reason label
// is bounded by the closed Reason set, keeping cardinality fixed.
var outcomeCount = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "router_events_total",
		Help: "Total number of events processed, by outcome reason.",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(outcomeCount)
}
