package ack

import "github.com/prometheus/client_golang/prometheus"

// Monitoring metrics for the ack tracker: counters for unresponsive-client
// detection, adapted from a stalled-stream resume-attempt counter idiom.
var (
	unresponsiveClientsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "liteserver_unresponsive_clients_total",
		Help: "Total clients marked unresponsive after exceeding the ack countdown.",
	})

	beaconsSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "liteserver_acks_beacons_sent_total",
		Help: "Total beacon datagrams sent to outstanding delivery entries.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(unresponsiveClientsTotal, beaconsSentTotal)
}
