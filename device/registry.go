package device

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registry is the server-process-wide map of named devices: devices are
// registered with the server at startup and destroyed at process exit.
//
// Registry replaces an ephemeral, discovery-driven device registry with a
// simple explicit name→Device map: the registry is a struct owned by main,
// not module-level state.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	server  *Device
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Register adds d to the registry. Registering a device named "server"
// also sets it as the registry's Server device.
func (reg *Registry) Register(d *Device) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.devices[d.Name] = d
	if d.Name == "server" {
		reg.server = d
	}
}

// Unregister removes a device from the registry (process exit).
func (reg *Registry) Unregister(name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.devices, name)
}

// Get returns the named device, or nil if it is not registered.
func (reg *Registry) Get(name string) *Device {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.devices[name]
}

// MustGet returns the named device, or an ERR.LS error if unknown.
func (reg *Registry) MustGet(name string) (*Device, error) {
	d := reg.Get(name)
	if d == nil {
		return nil, errors.Errorf("ERR.LS no such device %s", name)
	}
	return d, nil
}

// Server returns the registry's required server device, or nil if one has
// not been registered yet.
func (reg *Registry) Server() *Device {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.server
}

// All returns every registered device, sorted by name.
func (reg *Registry) All() []*Device {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]*Device, 0, len(reg.devices))
	for _, d := range reg.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExpandDeviceNames resolves the wildcard device-name form ("*" as the
// device in a cnsDeviceName) to every registered device: '*' as the device
// name selects all devices on the server.
func (reg *Registry) ExpandDeviceNames(name string) ([]string, error) {
	if name == "*" {
		names := make([]string, 0)
		for _, d := range reg.All() {
			names = append(names, d.Name)
		}
		return names, nil
	}
	if _, err := reg.MustGet(name); err != nil {
		return nil, err
	}
	return []string{name}, nil
}

// UnsubscribeEverywhere removes hostPort's subscriber entry from every
// registered device on this server.
func (reg *Registry) UnsubscribeEverywhere(hostPort string) {
	for _, d := range reg.All() {
		d.Unsubscribe(hostPort)
	}
}
