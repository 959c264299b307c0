// Package device implements the named container of LDOs: lifecycle hooks,
// the per-device subscriber table, and the required `run`/`status` LDOs
// every device carries.
//
// Adapted from a device package that modeled discovered network hardware;
// here a Device is a static, explicitly-registered named group of LDOs
// rather than a discovered network endpoint.
package device

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/sukhanov/goliteserver/ldo"
	"github.com/sukhanov/goliteserver/protocol/wire"
)

// RunState is the discrete state carried by every device's required `run`
// LDO.
type RunState string

const (
	Run  RunState = "Run"
	Stop RunState = "Stop"
	Exit RunState = "Exit"
)

// Hooks are the overridable lifecycle callbacks a concrete device may
// implement. Every method is optional; a nil Hooks field means "use the
// no-op default".
type Hooks interface {
	// Start is invoked when the device's `run` LDO transitions to Run.
	Start() error
	// Stop is invoked when the device's `run` LDO transitions to Stop.
	Stop() error
	// Reset is invoked by the server device's fan-out Reset command.
	Reset() error
	// Poll is invoked by the server's polling thread every
	// devsPollingInterval seconds; not for data acquisition.
	Poll() error
	// Exit is invoked when run is set to Exit. Only the server device
	// accepts run=Exit; non-server devices reject it.
	Exit() error
}

// NopHooks is a Hooks implementation whose methods all do nothing; embed it
// to implement only the hooks a device cares about.
type NopHooks struct{}

func (NopHooks) Start() error { return nil }
func (NopHooks) Stop() error  { return nil }
func (NopHooks) Reset() error { return nil }
func (NopHooks) Poll() error  { return nil }
func (NopHooks) Exit() error  { return nil }

// Device is a named group of LDOs owned by one server process.
//
// Device is safe for concurrent use.
type Device struct {
	Name  string
	Hooks Hooks

	// AllowExit is true only for the server device: Exit is accepted only
	// for the server device.
	AllowExit bool

	mu   sync.RWMutex
	ldos map[string]*ldo.LDO
	// order preserves declaration order so wildcard ('*') parameter
	// expansion is deterministic, preserving the device's declared
	// parameter order.
	order []string

	lastPublishTime float64

	subMu       sync.Mutex
	subscribers map[string]*Subscriber
}

// New creates an empty device named name, with its required `run` and
// `status` LDOs already registered.
func New(name string, hooks Hooks) *Device {
	if hooks == nil {
		hooks = NopHooks{}
	}
	d := &Device{
		Name:        name,
		Hooks:       hooks,
		ldos:        make(map[string]*ldo.LDO),
		subscribers: make(map[string]*Subscriber),
	}

	run := ldo.New("run", ldo.Readable|ldo.Writable, wire.String(string(Stop)))
	run.Type = "string"
	run.LegalValues = []wire.Value{wire.String(string(Run)), wire.String(string(Stop)), wire.String(string(Exit))}
	run.Setter = ldo.SetterFunc(d.onRunSet)
	d.Register(run)

	status := ldo.New("status", ldo.Readable, wire.String(""))
	d.Register(status)

	return d
}

// Register adds an LDO to the device, preserving declaration order.
//
// Register panics if an LDO with the same name is already registered; this
// is a programming error in device construction, not a runtime condition.
func (d *Device) Register(l *ldo.LDO) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.ldos[l.Name]; exists {
		panic("device: duplicate LDO name " + l.Name)
	}
	d.ldos[l.Name] = l
	d.order = append(d.order, l.Name)
}

// LDO returns the named LDO, or nil if it is not registered.
func (d *Device) LDO(name string) *ldo.LDO {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ldos[name]
}

// ParameterNames returns every registered LDO name, in declaration order.
func (d *Device) ParameterNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.order...)
}

// ExpandParameters resolves a wildcard-or-explicit parameter list against
// this device: wildcard '*' parameter expansion preserves the device's
// declared parameter order.
func (d *Device) ExpandParameters(names []string) ([]string, error) {
	if len(names) == 1 && names[0] == "*" {
		return d.ParameterNames(), nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, n := range names {
		if _, ok := d.ldos[n]; !ok {
			return nil, errors.Errorf("ERR.LS no such parameter %s:%s", d.Name, n)
		}
	}
	return append([]string(nil), names...), nil
}

// MasterParameter returns the first R-featured parameter in declaration
// order, used to anchor a wildcard subscribe.
func (d *Device) MasterParameter() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, n := range d.order {
		if d.ldos[n].Features.Has(ldo.Readable) {
			return n, true
		}
	}
	return "", false
}

// LastPublishTime returns the timestamp recorded at the end of this device's
// most recent publish() call; it is the change-detection key for "read".
func (d *Device) LastPublishTime() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastPublishTime
}

// SetLastPublishTime records the time a publish() round began or completed.
func (d *Device) SetLastPublishTime(ts float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastPublishTime = ts
}

func (d *Device) onRunSet(old, newVal []wire.Value) error {
	if len(newVal) != 1 || newVal[0].Kind != wire.KindString {
		return errors.New("run must be a single string")
	}
	switch RunState(newVal[0].Str) {
	case Run:
		return d.Hooks.Start()
	case Stop:
		return d.Hooks.Stop()
	case Exit:
		if !d.AllowExit {
			return errors.Errorf("run=Exit is only accepted by the server device")
		}
		return d.Hooks.Exit()
	default:
		return errors.Errorf("unknown run state %q", newVal[0].Str)
	}
}

// SetStatus updates the device's `status` LDO text.
func (d *Device) SetStatus(text string) {
	if s := d.LDO("status"); s != nil {
		s.SetValueAndTimestamp([]wire.Value{wire.String(text)}, secondsNow())
	}
}

func secondsNow() float64 { return float64(time.Now().UnixNano()) / 1e9 }
