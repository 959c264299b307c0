package publish

import "github.com/prometheus/client_golang/prometheus"

// Monitoring metrics for the publish pipeline: counters for subscriber
// delivery rounds, adapted from a frame-send/drop counter idiom.
var (
	publishRoundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "liteserver_publish_rounds_total",
		Help: "Total number of heartbeat-driven publish() rounds run.",
	})

	subscribersEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "liteserver_subscribers_evicted_total",
		Help: "Total subscribers evicted for exceeding the consecutive ack-loss limit.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(publishRoundsTotal, subscribersEvictedTotal)
}
