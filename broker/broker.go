// Package broker implements server-side command dispatch: it receives a
// datagram, recognizes the ACK/beacon short forms, otherwise decodes a
// UBJSON request, resolves device:parameter targets, and drives the
// Codec/Chunker/AckTracker pipeline to reply.
//
// Adapted from a command-fanout idiom that dispatched commands to
// registered devices; architected as a struct owned by main, not package
// state.
package broker

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sukhanov/goliteserver/ack"
	"github.com/sukhanov/goliteserver/device"
	"github.com/sukhanov/goliteserver/ldo"
	"github.com/sukhanov/goliteserver/protocol/chunk"
	"github.com/sukhanov/goliteserver/protocol/wire"
	"github.com/sukhanov/goliteserver/support/fmtutil"
	"github.com/sukhanov/goliteserver/support/logging"
	"github.com/sukhanov/goliteserver/support/network"
)

// Broker dispatches incoming datagrams against a device Registry and tracks
// outstanding multi-chunk deliveries via an ack.Tracker.
//
// Broker holds no package-level state; one instance is owned by main and
// shared by every server socket goroutine.
type Broker struct {
	Registry *device.Registry
	Acks     *ack.Tracker
	Logger   logging.L

	// ChunkSize bounds outbound datagram payloads; zero means
	// chunk.DefaultSize.
	ChunkSize int

	// OnSend, if set, is invoked after every successful send with the total
	// bytes written and the wall time taken, feeding server.perf.
	OnSend func(n int, dt time.Duration)

	// OnRetransmit, if set, is invoked once per successful retransmit, to
	// increment a retransmits counter.
	OnRetransmit func()
}

// Dispatch handles one received datagram from clientHostPort on socketID
// (an opaque label identifying the local server socket it arrived on,
// used only to key the ack.Tracker), sending any reply chunks through
// sender.
func (b *Broker) Dispatch(dg []byte, socketID, clientHostPort string, sender network.DatagramSender) error {
	key := ack.Key{Socket: socketID, Client: clientHostPort}

	if string(dg) == "ACK" {
		b.Acks.Ack(key)
		return nil
	}
	if chunk.IsBeacon(dg) {
		return nil
	}

	v, err := wire.Decode(dg)
	if err != nil {
		if b.Logger != nil {
			b.Logger.Debugf("malformed request from %s: %v\n%s", clientHostPort, err, fmtutil.Hex(dg))
		}
		return b.sendError(sender, errors.Wrap(err, "ERR.LS malformed request").Error())
	}
	req, err := wire.DecodeRequest(v)
	if err != nil {
		return b.sendError(sender, errorMessage(err))
	}

	var reply wire.Value
	switch req.Command {
	case "info":
		reply, err = b.handleInfo(req)
	case "get":
		reply, err = b.handleGet(req)
	case "read":
		reply, err = b.handleRead(req)
	case "set":
		reply, err = b.handleSet(req)
	case "subscribe":
		reply, err = b.handleSubscribe(req, clientHostPort, sender)
	case "unsubscribe":
		b.Registry.UnsubscribeEverywhere(clientHostPort)
		reply = wire.Object(map[string]wire.Value{"status": wire.String("unsubscribed")})
	case "retransmit":
		return b.handleRetransmit(req, key)
	default:
		err = errors.Errorf("ERR.LS unknown command %q", req.Command)
	}
	if err != nil {
		return b.sendError(sender, errorMessage(err))
	}

	return b.send(key, sender, reply)
}

func errorMessage(err error) string {
	msg := err.Error()
	if strings.HasPrefix(msg, "ERR") || strings.HasPrefix(msg, "WARNING") {
		return msg
	}
	return "ERR.LS " + msg
}

func (b *Broker) sendError(sender network.DatagramSender, msg string) error {
	return b.send(ack.Key{}, sender, wire.ErrorReply(msg))
}

// send encodes, chunks, registers (if multi-chunk) and emits a reply.
func (b *Broker) send(key ack.Key, sender network.DatagramSender, reply wire.Value) error {
	payload, err := wire.Encode(reply)
	if err != nil {
		return errors.Wrap(err, "encoding reply")
	}

	size := b.ChunkSize
	if size <= 0 {
		size = chunk.DefaultSize
	}
	datagrams, err := chunk.Split(payload, size)
	if err != nil {
		return errors.Wrap(err, "chunking reply")
	}

	start := time.Now()
	total := 0
	for _, dg := range datagrams {
		if err := sender.SendDatagram(dg); err != nil {
			return errors.Wrap(err, "sending reply chunk")
		}
		total += len(dg)
	}
	if b.OnSend != nil {
		b.OnSend(total, time.Since(start))
	}

	if len(datagrams) > 1 && b.Acks != nil && key.Client != "" {
		b.Acks.Register(key, sender, datagrams)
	}
	return nil
}

// PublishRead drives the same change-filtered reply path as the "read"
// command, synthesized for one subscriber rather than decoded off the
// wire. It is the hook publish.Publisher uses to deliver a publish()
// round: invoking the broker's reply path with a synthesized read command.
func (b *Broker) PublishRead(socketID, host, clientHostPort string, d *device.Device, parameters []string, sender network.DatagramSender) error {
	req := &Request{Args: []wire.Specifier{{CNSDeviceName: host + ":" + d.Name, Parameters: parameters}}}
	reply, err := b.handleRead(req)
	if err != nil {
		return err
	}
	return b.send(ack.Key{Socket: socketID, Client: clientHostPort}, sender, reply)
}

func (b *Broker) handleRetransmit(req *Request, key ack.Key) error {
	offset, length, err := retransmitArgs(req)
	if err != nil {
		return err
	}
	found, err := b.Acks.Retransmit(key, offset, length)
	if err != nil {
		return err
	}
	if found && b.OnRetransmit != nil {
		b.OnRetransmit()
	}
	return nil
}

// Request is an alias so broker's other files don't need to import wire
// just for the type name.
type Request = wire.Request

func retransmitArgs(req *Request) (offset, length int, err error) {
	if len(req.Args) != 1 || len(req.Args[0].Values) != 2 {
		return 0, 0, errors.New("ERR.LS retransmit requires [offset, length]")
	}
	vals := req.Args[0].Values
	if vals[0].Kind != wire.KindInt || vals[1].Kind != wire.KindInt {
		return 0, 0, errors.New("ERR.LS retransmit offset/length must be integers")
	}
	return int(vals[0].Int), int(vals[1].Int), nil
}

// splitCNSDeviceName splits a "host:device" specifier name into its two
// parts; reply keys are "host:device:parameter".
func splitCNSDeviceName(name string) (host, dev string, err error) {
	parts := strings.SplitN(name, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("ERR.LS malformed device name %q", name)
	}
	return parts[0], parts[1], nil
}

func ldoMetadata(l *ldo.LDO, property string) map[string]wire.Value {
	out := map[string]wire.Value{}
	if property == "" {
		return out
	}
	all := property == "*"
	want := func(name string) bool { return all || property == name }

	if want("desc") && l.Desc != "" {
		out["desc"] = wire.String(l.Desc)
	}
	if want("units") && l.Units != "" {
		out["units"] = wire.String(l.Units)
	}
	if want("type") && l.Type != "" {
		out["type"] = wire.String(l.Type)
	}
	if want("features") {
		out["features"] = wire.String(l.Features.String())
	}
	if want("opLimits") && l.OpLimits != nil {
		low, high := wire.Null, wire.Null
		if l.OpLimits.Low != nil {
			low = wire.Float(*l.OpLimits.Low)
		}
		if l.OpLimits.High != nil {
			high = wire.Float(*l.OpLimits.High)
		}
		out["opLimits"] = wire.Array(low, high)
	}
	if want("legalValues") && len(l.LegalValues) > 0 {
		out["legalValues"] = wire.Array(l.LegalValues...)
	}
	return out
}

// valueCell builds the per-parameter reply dictionary for one LDO. A
// numpy-shortcut value takes over the whole cell verbatim (the codec's
// {"value": bytes, "numpy": [shape, dtype]} convention has no room for a
// sibling "timestamp" key); every other value gets the usual
// value/timestamp(+metadata) dictionary.
func valueCell(l *ldo.LDO, property string) wire.Value {
	vals, ts := l.Value()
	if len(vals) == 1 && vals[0].Numpy != nil {
		return vals[0]
	}

	cell := map[string]wire.Value{
		"value":     valueOrArray(vals),
		"timestamp": wire.Float(ts),
	}
	for k, v := range ldoMetadata(l, property) {
		cell[k] = v
	}
	return wire.Object(cell)
}

// valueOrArray collapses a length-1 value slice to a bare scalar for the
// wire: single values are encoded scalar, not length-1 arrays.
func valueOrArray(vals []wire.Value) wire.Value {
	if len(vals) == 1 {
		return vals[0]
	}
	return wire.Array(vals...)
}
