package device

import (
	"sort"

	"github.com/sukhanov/goliteserver/support/network"
)

// ParameterRequest is one `(device, parameters)` tuple a subscriber asked
// for.
type ParameterRequest struct {
	Parameters []string
}

// Subscriber is one remote client registered on a device's subscriber
// table.
type Subscriber struct {
	// HostPort is the client's "host:port" key.
	HostPort string

	// Socket is the server-side send socket used to deliver to this client.
	Socket network.DatagramSender

	// Parameters is the union of parameter names this subscriber has asked
	// for on this device.
	Parameters []string

	// ConsecutiveLosses counts delivery rounds skipped in a row because a
	// prior delivery was still outstanding.
	ConsecutiveLosses int

	// LastDeliveryTime is the timestamp of this subscriber's last
	// successful delivery.
	LastDeliveryTime float64
}

// RegisterSubscriber registers hostPort for the given parameters on this
// device.
//
// If hostPort is already present, the requested parameters are merged into
// the existing entry; otherwise a new entry is created with a zeroed loss
// counter.
func (d *Device) RegisterSubscriber(hostPort string, socket network.DatagramSender, parameters []string) {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	sub := d.subscribers[hostPort]
	if sub == nil {
		sub = &Subscriber{HostPort: hostPort, Socket: socket}
		d.subscribers[hostPort] = sub
	}
	sub.Socket = socket
	sub.Parameters = mergeParameters(sub.Parameters, parameters)
}

func mergeParameters(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		seen[p] = struct{}{}
	}
	out := append([]string(nil), existing...)
	for _, p := range added {
		if _, ok := seen[p]; !ok {
			out = append(out, p)
			seen[p] = struct{}{}
		}
	}
	return out
}

// Unsubscribe removes hostPort's entry, if present.
func (d *Device) Unsubscribe(hostPort string) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	delete(d.subscribers, hostPort)
}

// Subscriber returns the registered subscriber for hostPort, or nil.
func (d *Device) Subscriber(hostPort string) *Subscriber {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	return d.subscribers[hostPort]
}

// Subscribers returns a stable-ordered snapshot of this device's
// subscriber table, safe to iterate without holding any lock.
func (d *Device) Subscribers() []*Subscriber {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	out := make([]*Subscriber, 0, len(d.subscribers))
	for _, s := range d.subscribers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HostPort < out[j].HostPort })
	return out
}

// EvictSubscriber removes hostPort from this device's subscriber table; used
// by the publisher when a client exceeds ItemLostLimit.
func (d *Device) EvictSubscriber(hostPort string) {
	d.Unsubscribe(hostPort)
}

// SubscriberCount returns the number of distinct subscribers on this device.
func (d *Device) SubscriberCount() int {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	return len(d.subscribers)
}
