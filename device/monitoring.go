package device

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Monitoring metrics for devices: per-device parameter and subscriber
// counts, the same shape the server device publishes in its statistics
// LDO, adapted from a gauge idiom that tracked online/pixel/strip counts
// for discovered hardware.
var (
	deviceParameterCountGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "liteserver_device_parameter_count",
		Help: "Count of registered LDOs on a device.",
	},
		[]string{"device"})

	deviceSubscriberCountGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "liteserver_device_subscriber_count",
		Help: "Count of active subscribers on a device.",
	},
		[]string{"device"})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		deviceParameterCountGauge,
		deviceSubscriberCountGauge,
	)
}

// UpdateMonitoring refreshes this device's metrics; called by the
// heartbeat.
func (d *Device) UpdateMonitoring() {
	deviceParameterCountGauge.WithLabelValues(d.Name).Set(float64(len(d.ParameterNames())))
	deviceSubscriberCountGauge.WithLabelValues(d.Name).Set(float64(d.SubscriberCount()))
}
