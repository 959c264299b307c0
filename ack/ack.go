// Package ack implements the per-(socket,client) outstanding-delivery
// tracker: it remembers which chunks of a multi-datagram reply are still
// unacknowledged, periodically re-announces them with a beacon, and serves
// retransmit requests.
//
// Adapted from a "resume a stalled stream" retry-state idiom tracked per
// remote device; architected here as a struct owned by the broker, not a
// package global.
package ack

import (
	"context"
	"sync"
	"time"

	"github.com/sukhanov/goliteserver/protocol/chunk"
	"github.com/sukhanov/goliteserver/support/logging"
	"github.com/sukhanov/goliteserver/support/network"
)

const (
	// DefaultMaxAckCount is the number of beacon rounds a delivery survives
	// before the client is considered unresponsive.
	DefaultMaxAckCount = 10

	// DefaultInterval is the period between beacon rounds.
	DefaultInterval = 500 * time.Millisecond
)

// Key identifies one outstanding-delivery slot: a server socket and the
// client it is talking to.
type Key struct {
	Socket string // identifies the local server socket (usually its bind address)
	Client string // "host:port" of the remote client
}

type entry struct {
	mu        sync.Mutex
	countdown int
	sender    network.DatagramSender
	chunks    map[int][]byte // offset -> chunk datagram bytes, for retransmit
}

// Tracker is the process-wide (well, Broker-wide) ack state.
//
// Tracker is safe for concurrent use.
type Tracker struct {
	Logger      logging.L
	MaxAckCount int
	Interval    time.Duration

	// OnUnresponsive, if set, is called on every beacon round in which a
	// client's countdown is at or below zero; the entry itself is kept.
	OnUnresponsive func(key Key)

	mu      sync.Mutex
	entries map[Key]*entry
}

// New creates a Tracker with the given defaults applied for zero fields.
func New(logger logging.L) *Tracker {
	return &Tracker{
		Logger:      logging.Must(logger),
		MaxAckCount: DefaultMaxAckCount,
		Interval:    DefaultInterval,
		entries:     make(map[Key]*entry),
	}
}

// Register records a freshly-sent multi-chunk reply as outstanding,
// resetting its ack countdown: on every outbound multi-chunk reply, the
// sender registers the entry with its countdown reset to MaxAckCount.
func (t *Tracker) Register(key Key, sender network.DatagramSender, datagrams [][]byte) {
	chunks := make(map[int][]byte, len(datagrams))
	for _, dg := range datagrams {
		offset, body, err := chunk.DecodeDatagram(dg)
		if err != nil {
			continue
		}
		cpy := append([]byte(nil), dg...)
		_ = body
		chunks[offset] = cpy
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = &entry{
		countdown: t.maxAckCount(),
		sender:    sender,
		chunks:    chunks,
	}
}

func (t *Tracker) maxAckCount() int {
	if t.MaxAckCount > 0 {
		return t.MaxAckCount
	}
	return DefaultMaxAckCount
}

func (t *Tracker) interval() time.Duration {
	if t.Interval > 0 {
		return t.Interval
	}
	return DefaultInterval
}

// Outstanding reports whether key still has an unacknowledged delivery.
func (t *Tracker) Outstanding(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

// Ack clears the outstanding entry for key: on receipt of an "ACK"
// datagram, the entry is dropped.
func (t *Tracker) Ack(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Retransmit re-emits the chunk at offset for key, exactly as first sent,
// leaving its ack countdown unchanged. It reports whether a matching chunk
// was found.
func (t *Tracker) Retransmit(key Key, offset, length int) (bool, error) {
	t.mu.Lock()
	e := t.entries[key]
	t.mu.Unlock()
	if e == nil {
		return false, nil
	}

	e.mu.Lock()
	dg, ok := e.chunks[offset]
	sender := e.sender
	e.mu.Unlock()
	if !ok {
		return false, nil
	}
	if _, body, err := chunk.DecodeDatagram(dg); err == nil && length > 0 && len(body) != length {
		// Length mismatch: still resend what we have, the client's
		// reassembly will report a fresh gap if this doesn't resolve it.
		t.Logger.Warnf("retransmit length mismatch for %v offset %d: want %d got %d", key, offset, length, len(body))
	}

	return true, sender.SendDatagram(dg)
}

// Remove drops key's entry without sending anything (used when a
// subscriber is explicitly unsubscribed or evicted).
func (t *Tracker) Remove(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Run drives the periodic beacon/countdown loop until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Tracker) tick() {
	beacon, err := chunk.EncodeDatagram(0, nil)
	if err != nil {
		return
	}

	t.mu.Lock()
	keys := make([]Key, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	t.mu.Unlock()

	for _, key := range keys {
		t.mu.Lock()
		e := t.entries[key]
		t.mu.Unlock()
		if e == nil {
			continue
		}

		e.mu.Lock()
		e.countdown--
		countdown := e.countdown
		sender := e.sender
		e.mu.Unlock()

		if sender != nil {
			if err := sender.SendDatagram(beacon); err != nil {
				t.Logger.Warnf("ack beacon to %v failed: %v", key, err)
			}
			beaconsSentTotal.Inc()
		}

		if countdown <= 0 {
			t.Logger.Warnf("client %v unresponsive after %d ack rounds", key, t.maxAckCount())
			unresponsiveClientsTotal.Inc()
			if t.OnUnresponsive != nil {
				t.OnUnresponsive(key)
			}
		}
	}
}
