// Package counter implements the "counter" demo device: a single
// incrementing `counters` LDO, advanced once a second by a background
// goroutine, exercising the subscribe-then-produce scenario end to end.
//
// Adapted from a flag-driven demo app producing a periodic animation,
// reworked from animation frames to an LDO value.
package counter

import (
	"context"
	"time"

	"github.com/sukhanov/goliteserver/device"
	"github.com/sukhanov/goliteserver/ldo"
	"github.com/sukhanov/goliteserver/protocol/wire"
)

// DefaultInterval is how often the counter advances its value.
const DefaultInterval = time.Second

// Device wraps a "dev1"-shaped counter device: a required run/status pair
// plus a single Readable|Writable `counters` LDO.
type Device struct {
	*device.Device

	Interval time.Duration

	cancel context.CancelFunc
}

// New creates the counter device named name, starting at zero.
func New(name string) *Device {
	cd := &Device{}
	d := device.New(name, cd)
	cd.Device = d

	counters := ldo.New("counters", ldo.Readable|ldo.Writable, wire.Int(0))
	d.Register(counters)

	return cd
}

func (cd *Device) interval() time.Duration {
	if cd.Interval > 0 {
		return cd.Interval
	}
	return DefaultInterval
}

// Start implements device.Hooks: begins advancing `counters` every Interval
// (DefaultInterval when unset) until Stop is called.
func (cd *Device) Start() error {
	if cd.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cd.cancel = cancel
	go cd.run(ctx)
	cd.SetStatus("running")
	return nil
}

// Stop implements device.Hooks: halts the counting goroutine.
func (cd *Device) Stop() error {
	if cd.cancel != nil {
		cd.cancel()
		cd.cancel = nil
	}
	cd.SetStatus("stopped")
	return nil
}

// Reset implements device.Hooks: resets `counters` to zero without
// touching the run state.
func (cd *Device) Reset() error {
	cd.Device.LDO("counters").SetValueAndTimestamp([]wire.Value{wire.Int(0)}, secondsNow())
	return nil
}

// Poll implements device.Hooks; the counter needs no server-driven poll.
func (cd *Device) Poll() error { return nil }

// Exit implements device.Hooks; non-server devices reject run=Exit, so
// this is never invoked, but device.Hooks requires it.
func (cd *Device) Exit() error { return nil }

func (cd *Device) run(ctx context.Context) {
	ticker := time.NewTicker(cd.interval())
	defer ticker.Stop()

	l := cd.Device.LDO("counters")
	var n int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			l.SetValueAndTimestamp([]wire.Value{wire.Int(n)}, secondsNow())
		}
	}
}

func secondsNow() float64 { return float64(time.Now().UnixNano()) / 1e9 }
