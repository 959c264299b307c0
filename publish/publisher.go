// Package publish implements the change-driven subscriber delivery loop and
// the server-wide heartbeat, generalized from a periodic-refresh idiom of
// "recompute discovered-device gauges" to "walk every subscriber and
// deliver changed parameters".
package publish

import (
	"sync"
	"time"

	"github.com/sukhanov/goliteserver/ack"
	"github.com/sukhanov/goliteserver/broker"
	"github.com/sukhanov/goliteserver/device"
	"github.com/sukhanov/goliteserver/support/logging"
)

// DefaultItemLostLimit is the number of consecutive skipped rounds a
// subscriber survives before eviction.
const DefaultItemLostLimit = 1

// Publisher drives device.publish() for every registered device. A single
// Publisher instance is shared by every device so its internal lock can
// serialize publish() calls across devices: across devices, publish() calls
// are serialized by a single process-wide publish lock.
type Publisher struct {
	Broker   *broker.Broker
	Acks     *ack.Tracker
	Logger   logging.L
	SocketID string // ack.Key.Socket label shared with the receive loop
	Host     string // host label stamped into reply keys

	// ItemLostLimit bounds consecutive skipped rounds before eviction; zero
	// means DefaultItemLostLimit.
	ItemLostLimit int

	// OnDropped, if set, is invoked once per round a subscriber is skipped
	// because a prior delivery is still outstanding.
	OnDropped func()
	// OnItemsLost, if set, is invoked with the subscriber's pending parameter
	// count when it is evicted for exceeding ItemLostLimit.
	OnItemsLost func(n int64)

	mu sync.Mutex
}

// New creates a Publisher with the given collaborators and sane defaults.
func New(b *broker.Broker, acks *ack.Tracker, logger logging.L, socketID, host string) *Publisher {
	return &Publisher{
		Broker:   b,
		Acks:     acks,
		Logger:   logging.Must(logger),
		SocketID: socketID,
		Host:     host,
	}
}

func (p *Publisher) lostLimit() int {
	if p.ItemLostLimit > 0 {
		return p.ItemLostLimit
	}
	return DefaultItemLostLimit
}

// PublishDevice runs one publish() round for d: for every subscriber,
// either counts it as dropped (an earlier delivery is still outstanding) or
// sends a change-filtered read reply.
func (p *Publisher) PublishDevice(d *device.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sub := range d.Subscribers() {
		key := ack.Key{Socket: p.SocketID, Client: sub.HostPort}

		if p.Acks.Outstanding(key) {
			sub.ConsecutiveLosses++
			if p.OnDropped != nil {
				p.OnDropped()
			}
			if sub.ConsecutiveLosses > p.lostLimit() {
				p.Logger.Warnf("subscription to %s on %s cancelled: ack limit exceeded", sub.HostPort, d.Name)
				d.EvictSubscriber(sub.HostPort)
				p.Acks.Remove(key)
				subscribersEvictedTotal.Inc()
				if p.OnItemsLost != nil {
					p.OnItemsLost(int64(len(sub.Parameters)))
				}
			}
			continue
		}

		if err := p.Broker.PublishRead(p.SocketID, p.Host, sub.HostPort, d, sub.Parameters, sub.Socket); err != nil {
			p.Logger.Warnf("publishing to %s on %s: %v", sub.HostPort, d.Name, err)
			continue
		}
		sub.ConsecutiveLosses = 0
		sub.LastDeliveryTime = secondsNow()
	}

	d.SetLastPublishTime(secondsNow())
}

func secondsNow() float64 { return float64(time.Now().UnixNano()) / 1e9 }
