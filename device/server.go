package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/sukhanov/goliteserver/ldo"
	"github.com/sukhanov/goliteserver/protocol/wire"
)

// Perf holds the raw counters behind the server device's `perf` LDO.
// These are advisory statistics that tolerate races, incremented under a
// mutex here rather than left lock-free.
type Perf struct {
	Sends       int64
	MBytes      float64
	Seconds     float64
	Retransmits int64
	ItemsLost   int64
	Dropped     int64
}

// ServerHooks lets main supply the Reset fan-out behavior without the
// device package depending on Registry.
type ServerHooks struct {
	NopHooks
	ResetFunc func() error
}

func (h ServerHooks) Reset() error {
	if h.ResetFunc != nil {
		return h.ResetFunc()
	}
	return nil
}

// Server wraps the required `server` device with typed accessors for its
// perf/statistics counters.
//
// Server is adapted to explicit struct fields instead of module-level
// globals.
type Server struct {
	*Device

	mu   sync.Mutex
	perf Perf

	version string
}

// NewServer builds the required `server` device with its full set of
// status and control LDOs.
func NewServer(version, host string, reset func() error) *Server {
	d := New("server", ServerHooks{ResetFunc: reset})
	d.AllowExit = true

	s := &Server{Device: d, version: version}

	d.Register(ldo.New("version", ldo.Readable, wire.String(version)))
	d.Register(ldo.New("host", ldo.Readable, wire.String(host)))
	// status was already registered by New(); it only needs to exist and
	// be readable, so it isn't re-described here.

	debug := ldo.New("debug", ldo.Readable|ldo.Writable|ldo.Editable, wire.Int(0))
	zero, ten := 0.0, 10.0
	debug.OpLimits = &ldo.Limits{Low: &zero, High: &ten}
	d.Register(debug)

	pollInterval := ldo.New("devsPollingInterval", ldo.Readable|ldo.Writable|ldo.Editable, wire.Float(1.0))
	pollInterval.Units = "s"
	d.Register(pollInterval)

	resetLDO := ldo.New("Reset", ldo.Writable|ldo.Editable, wire.Null)
	resetLDO.Setter = ldo.SetterFunc(func(old, newVal []wire.Value) error {
		return d.Hooks.Reset()
	})
	d.Register(resetLDO)

	d.Register(ldo.New("lastPID", ldo.Readable, wire.String("?")))
	d.Register(ldo.New("perf", ldo.Readable,
		wire.Float(0), wire.Float(0), wire.Float(0), wire.Int(0), wire.Int(0), wire.Int(0)))
	d.Register(ldo.New("statistics", ldo.Readable, wire.Int(0), wire.Int(0)))
	d.Register(ldo.New("clientsInfo", ldo.Readable, wire.String("")))

	return s
}

// RecordSend updates the perf counters after a successful send of n bytes;
// perf's MBytes/Seconds/Sends feed the heartbeat's MB/s calculation.
func (s *Server) RecordSend(n int, dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perf.Sends++
	s.perf.MBytes += float64(n) / 1e6
	s.perf.Seconds += dt.Seconds()
}

// RecordRetransmit increments the retransmit counter.
func (s *Server) RecordRetransmit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perf.Retransmits++
}

// RecordItemsLost adds n to the perf snapshot's items-lost counter, which is
// kept apart from the dropped-delivery counter.
func (s *Server) RecordItemsLost(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perf.ItemsLost += n
}

// RecordDropped increments the dropped-delivery counter.
func (s *Server) RecordDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perf.Dropped++
}

// SnapshotPerf returns a copy of the current perf counters.
func (s *Server) SnapshotPerf() Perf {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perf
}

// SetLastPID records the identity of the previous requester.
func (s *Server) SetLastPID(who string) {
	if l := s.LDO("lastPID"); l != nil {
		l.SetValueAndTimestamp([]wire.Value{wire.String(who)}, secondsNow())
	}
}

// DebugLevel returns the server's current log verbosity.
func (s *Server) DebugLevel() int {
	if l := s.LDO("debug"); l != nil {
		v, _ := l.Value()
		if len(v) == 1 && v[0].Kind == wire.KindInt {
			return int(v[0].Int)
		}
	}
	return 0
}

// PollingInterval returns the current devsPollingInterval.
func (s *Server) PollingInterval() time.Duration {
	if l := s.LDO("devsPollingInterval"); l != nil {
		v, _ := l.Value()
		if len(v) == 1 && v[0].Kind == wire.KindFloat {
			return time.Duration(v[0].Float * float64(time.Second))
		}
	}
	return time.Second
}

// UpdateHeartbeat refreshes perf/statistics/clientsInfo from the current
// perf snapshot and a set of device statistics, and returns the MB/s
// throughput computed from prevMBytes and prevSeconds.
func (s *Server) UpdateHeartbeat(totalItems, totalSubscriptions int, clientsInfo string, prevMBytes, prevSeconds float64) (mbps float64) {
	ts := secondsNow()
	p := s.SnapshotPerf()

	dt := p.Seconds - prevSeconds
	if dt > 0 {
		mbps = (p.MBytes - prevMBytes) / dt
	}

	if l := s.LDO("perf"); l != nil {
		l.SetValueAndTimestamp([]wire.Value{
			wire.Float(float64(p.Sends)),
			wire.Float(p.MBytes),
			wire.Float(mbps),
			wire.Int(p.Retransmits),
			wire.Int(p.ItemsLost),
			wire.Int(p.Dropped),
		}, ts)
	}
	if l := s.LDO("statistics"); l != nil {
		l.SetValueAndTimestamp([]wire.Value{wire.Int(int64(totalItems)), wire.Int(int64(totalSubscriptions))}, ts)
	}
	if l := s.LDO("clientsInfo"); l != nil {
		l.SetValueAndTimestamp([]wire.Value{wire.String(clientsInfo)}, ts)
	}
	return mbps
}

// FormatClientsInfo renders a textual subscriber inventory across every
// device in devices.
func FormatClientsInfo(devices []*Device) string {
	out := ""
	for _, d := range devices {
		subs := d.Subscribers()
		if len(subs) == 0 {
			continue
		}
		out += fmt.Sprintf("%s:\n", d.Name)
		for _, sub := range subs {
			out += fmt.Sprintf("  %s -> %v (losses=%d)\n", sub.HostPort, sub.Parameters, sub.ConsecutiveLosses)
		}
	}
	return out
}
