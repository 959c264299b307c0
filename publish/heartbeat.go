package publish

import (
	"context"
	"time"

	"github.com/sukhanov/goliteserver/device"
	"github.com/sukhanov/goliteserver/support/logging"
)

// DefaultInterval is the heartbeat tick period: wakes every ~10s.
const DefaultInterval = 10 * time.Second

// Heartbeat refreshes the server device's perf/statistics/clientsInfo LDOs
// and publishes them, on a fixed period.
type Heartbeat struct {
	Registry  *device.Registry
	Server    *device.Server
	Publisher *Publisher
	Logger    logging.L
	Interval  time.Duration

	prevMBytes  float64
	prevSeconds float64
}

func (h *Heartbeat) interval() time.Duration {
	if h.Interval > 0 {
		return h.Interval
	}
	return DefaultInterval
}

// Run ticks until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Tick()
		}
	}
}

// Tick runs a single heartbeat round: scan every device, refresh the
// server's perf/statistics/clientsInfo, and publish them.
func (h *Heartbeat) Tick() {
	devices := h.Registry.All()

	totalItems, totalSubscriptions := 0, 0
	for _, d := range devices {
		totalItems += len(d.ParameterNames())
		totalSubscriptions += d.SubscriberCount()
		d.UpdateMonitoring()
	}

	clientsInfo := device.FormatClientsInfo(devices)
	h.Server.UpdateHeartbeat(totalItems, totalSubscriptions, clientsInfo, h.prevMBytes, h.prevSeconds)

	snap := h.Server.SnapshotPerf()
	h.prevMBytes, h.prevSeconds = snap.MBytes, snap.Seconds

	h.Publisher.PublishDevice(h.Server.Device)
	publishRoundsTotal.Inc()
}
