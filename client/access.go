// Package client implements the universal client-side access surface: a
// process-wide Access offering info/get/set/subscribe/unsubscribe, a PV
// grouping helper, and per-host subscription sockets.
//
// Grounded on a connection-cache pattern (a locked map keyed by remote
// identity, lazily populated).
package client

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/sukhanov/goliteserver/nameresolve"
	"github.com/sukhanov/goliteserver/protocol/chunk"
	"github.com/sukhanov/goliteserver/protocol/wire"
	"github.com/sukhanov/goliteserver/support/logging"
	"github.com/sukhanov/goliteserver/support/network"
)

// DefaultTimeout bounds a single request/reply transaction.
const DefaultTimeout = 2 * time.Second

// transientRetryDelay is the pause before the one retry on a transient
// socket error sending a request/reply transaction.
const transientRetryDelay = 50 * time.Millisecond

// PV names one logical (device, parameter) target, addressed by the
// device's logical name, not a raw host:port, resolved via
// Access.Resolver.
type PV struct {
	Device    string
	Parameter string
}

// Access is the process-wide client surface.
//
// Access caches one UDP socket per remote host for request/reply
// transactions, issuing per-host transactions sequentially, and a
// separate persistent socket per host once a subscription is active (so
// the subscription receive loop never races a direct request's reply
// off the same socket).
type Access struct {
	Resolver nameresolve.Resolver
	Logger   logging.L
	Timeout  time.Duration

	// Host is the cnsDeviceName host label this client stamps on requests;
	// purely cosmetic, echoed back in reply keys.
	Host string

	mu      sync.Mutex
	conns   map[string]*net.UDPConn
	senders map[string]*network.ResilientDatagramSender
	subs    map[string]*SubscriptionSocket
}

// NewAccess creates an Access using resolver to map logical device names
// to network targets.
func NewAccess(resolver nameresolve.Resolver, logger logging.L) *Access {
	return &Access{
		Resolver: resolver,
		Logger:   logging.Must(logger),
		Host:     "client",
		conns:    make(map[string]*net.UDPConn),
		senders:  make(map[string]*network.ResilientDatagramSender),
		subs:     make(map[string]*SubscriptionSocket),
	}
}

func (a *Access) timeout() time.Duration {
	if a.Timeout > 0 {
		return a.Timeout
	}
	return DefaultTimeout
}

// resilientSender returns (creating if necessary) the ResilientDatagramSender
// Access uses to send request/reply traffic to addr. Its Factory dials a
// fresh *net.UDPConn and keeps a.conns[addr] pointed at it, so transact's
// read half always reads from whichever connection is currently backing
// the sender, including after a reconnect.
func (a *Access) resilientSender(addr string) (*network.ResilientDatagramSender, error) {
	a.mu.Lock()
	if rds, ok := a.senders[addr]; ok {
		a.mu.Unlock()
		return rds, nil
	}
	a.mu.Unlock()

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %q", addr)
	}

	rds := &network.ResilientDatagramSender{
		Factory: func() (network.DatagramSender, error) {
			c, err := net.DialUDP("udp", nil, udpAddr)
			if err != nil {
				return nil, err
			}
			a.mu.Lock()
			a.conns[addr] = c
			a.mu.Unlock()
			return network.UDPDatagramSender(c), nil
		},
	}
	if err := rds.Connect(); err != nil {
		return nil, errors.Wrapf(err, "dialing %q", addr)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.senders[addr]; ok {
		_ = rds.Close()
		return existing, nil
	}
	a.senders[addr] = rds
	return rds, nil
}

// group is one (host,port,device) target's accumulated parameter list
// across a PVs request.
type group struct {
	target nameresolve.Target
	params []string
}

func (a *Access) resolveGroups(pvs []PV) ([]group, error) {
	byTarget := map[nameresolve.Target]*group{}
	var order []nameresolve.Target
	for _, pv := range pvs {
		t, err := a.Resolver.Resolve(pv.Device)
		if err != nil {
			return nil, err
		}
		g, ok := byTarget[t]
		if !ok {
			g = &group{target: t}
			byTarget[t] = g
			order = append(order, t)
		}
		g.params = append(g.params, pv.Parameter)
	}
	out := make([]group, 0, len(order))
	for _, t := range order {
		out = append(out, *byTarget[t])
	}
	return out, nil
}

func targetAddr(t nameresolve.Target) string {
	return t.Host + ":" + strconv.Itoa(t.Port)
}

// transact sends req to addr over Access's cached request/reply connection
// and returns the decoded, fully reassembled reply. A transient send
// failure is retried once after a short sleep via a
// ResilientDatagramSender, then surfaced.
func (a *Access) transact(addr string, req wire.Value) (wire.Value, error) {
	rds, err := a.resilientSender(addr)
	if err != nil {
		return wire.Value{}, err
	}

	payload, err := wire.Encode(req)
	if err != nil {
		return wire.Value{}, errors.Wrap(err, "encoding request")
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(transientRetryDelay)
		}
		conn, err := a.sendOn(rds, addr, payload)
		if err != nil {
			lastErr = errors.Wrap(err, "sending request")
			continue
		}
		reply, err := a.readReply(conn, addr)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}
	return wire.Value{}, lastErr
}

// sendOn sends payload through rds, reconnecting if the send fails, and
// returns the *net.UDPConn now backing it (for reading the reply) with its
// read/write deadline refreshed.
func (a *Access) sendOn(rds *network.ResilientDatagramSender, addr string, payload []byte) (*net.UDPConn, error) {
	if err := rds.SendDatagram(payload); err != nil {
		return nil, err
	}
	a.mu.Lock()
	conn := a.conns[addr]
	a.mu.Unlock()
	if err := conn.SetDeadline(time.Now().Add(a.timeout())); err != nil {
		return nil, err
	}
	return conn, nil
}

// transactOn sends req over conn without any retry and returns the decoded,
// fully reassembled reply. Used for Subscribe's initial handshake, which
// must run on its own freshly dialed connection rather than a.transact's
// reconnect-on-failure one, since the server registers the subscriber
// under whichever address sends the subscribe datagram.
func (a *Access) transactOn(conn *net.UDPConn, addr string, req wire.Value) (wire.Value, error) {
	payload, err := wire.Encode(req)
	if err != nil {
		return wire.Value{}, errors.Wrap(err, "encoding request")
	}
	if err := conn.SetDeadline(time.Now().Add(a.timeout())); err != nil {
		return wire.Value{}, err
	}
	if _, err := conn.Write(payload); err != nil {
		return wire.Value{}, errors.Wrap(err, "sending request")
	}
	return a.readReply(conn, addr)
}

// readReply reassembles one chunked reply off conn, servicing any
// retransmit gap up to chunk.DefaultMaxRetransmitAttempts times, then ACKs
// and decodes it.
func (a *Access) readReply(conn *net.UDPConn, addr string) (wire.Value, error) {
	var asm chunk.Assembler
	buf := make([]byte, 65507)
	attempts := 0
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return wire.Value{}, errors.Wrap(err, "reading reply")
		}
		done, err := asm.AddDatagram(append([]byte(nil), buf[:n]...))
		if err != nil {
			return wire.Value{}, errors.Wrap(err, "reassembling reply")
		}
		if !done {
			continue
		}

		gaps := asm.Gaps()
		if len(gaps) == 0 {
			break
		}
		attempts++
		if attempts > chunk.DefaultMaxRetransmitAttempts {
			return wire.Value{}, errors.New("reassembly incomplete after max retransmit attempts")
		}
		for _, g := range gaps {
			if err := sendRetransmitRequest(conn, g.Offset, g.Length); err != nil {
				return wire.Value{}, err
			}
		}
	}

	payload, err := asm.Payload()
	if err != nil {
		return wire.Value{}, err
	}
	if _, err := conn.Write([]byte("ACK")); err != nil {
		a.Logger.Warnf("sending ACK to %s: %v", addr, err)
	}

	reply, err := wire.Decode(payload)
	if err != nil {
		return wire.Value{}, errors.Wrap(err, "decoding reply")
	}
	if wire.IsError(reply) {
		return wire.Value{}, errors.New(reply.Str)
	}
	return reply, nil
}

func cnsName(host, device string) string { return host + ":" + device }

func specifier(cnsDeviceName string, parameters []string, property string, values []wire.Value) wire.Value {
	paramsVal := wire.Value{Kind: wire.KindArray}
	for _, p := range parameters {
		paramsVal.Array = append(paramsVal.Array, wire.String(p))
	}
	tuple := []wire.Value{paramsVal, wire.String(property)}
	if values != nil {
		tuple = append(tuple, wire.Array(values...))
	}
	return wire.Array(wire.String(cnsDeviceName), wire.Array(tuple...))
}

func buildRequest(command string, specs []wire.Value) wire.Value {
	return wire.Object(map[string]wire.Value{
		"cmd": wire.Array(wire.String(command), wire.Array(specs...)),
	})
}

// Info implements "info" for a batch of PVs, returning the combined
// "host:device:parameter" -> cell map across every resolved target.
func (a *Access) Info(pvs []PV, property string) (map[string]wire.Value, error) {
	return a.request("info", pvs, property, nil)
}

// Get implements "get".
func (a *Access) Get(pvs []PV) (map[string]wire.Value, error) {
	return a.request("get", pvs, "", nil)
}

func (a *Access) request(command string, pvs []PV, property string, values []wire.Value) (map[string]wire.Value, error) {
	groups, err := a.resolveGroups(pvs)
	if err != nil {
		return nil, err
	}

	out := map[string]wire.Value{}
	for _, g := range groups {
		specs := []wire.Value{specifier(cnsName(a.Host, g.target.Device), g.params, property, values)}
		reply, err := a.transact(targetAddr(g.target), buildRequest(command, specs))
		if err != nil {
			return nil, err
		}
		for k, v := range reply.Object {
			out[k] = v
		}
	}
	return out, nil
}

// Set implements "set": a single PV only (multi-device set is rejected
// server-side).
func (a *Access) Set(pv PV, values []wire.Value) (wire.Value, error) {
	t, err := a.Resolver.Resolve(pv.Device)
	if err != nil {
		return wire.Value{}, err
	}
	specs := []wire.Value{specifier(cnsName(a.Host, t.Device), []string{pv.Parameter}, "", values)}
	return a.transact(targetAddr(t), buildRequest("set", specs))
}

// Subscribe ensures a SubscriptionSocket exists for every resolved target
// and issues the subscribe command over it, so the server registers the
// subscriber under the same address the receive loop reads from. Only one
// callback is permitted per remote host; a second Subscribe call to an
// already-subscribed host reuses the existing callback.
func (a *Access) Subscribe(pvs []PV, callback func(map[string]wire.Value)) error {
	groups, err := a.resolveGroups(pvs)
	if err != nil {
		return err
	}

	for _, g := range groups {
		addr := targetAddr(g.target)
		specs := []wire.Value{specifier(cnsName(a.Host, g.target.Device), g.params, "", nil)}
		req := buildRequest("subscribe", specs)

		a.mu.Lock()
		sub, exists := a.subs[addr]
		a.mu.Unlock()

		if exists {
			// The socket's receive loop is already reading sub.conn; send
			// the additional-parameters request without waiting for its
			// reply here, rather than race run()'s Read.
			if err := sendRequest(sub.conn, req); err != nil {
				return errors.Wrapf(err, "subscribing additional parameters on %q", addr)
			}
			continue
		}

		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return errors.Wrapf(err, "resolving %q", addr)
		}
		subConn, err := net.DialUDP("udp", nil, udpAddr)
		if err != nil {
			return errors.Wrapf(err, "dialing %q for subscription", addr)
		}

		if _, err := a.transactOn(subConn, addr, req); err != nil {
			subConn.Close()
			return err
		}

		sub = newSubscriptionSocket(addr, subConn, callback, a.Logger)
		a.mu.Lock()
		a.subs[addr] = sub
		a.mu.Unlock()
		go sub.run()
	}
	return nil
}

// Unsubscribe sends "unsubscribe" to addr's server, stops its receive
// thread, and closes the socket.
func (a *Access) Unsubscribe(addr string) error {
	a.mu.Lock()
	sub := a.subs[addr]
	delete(a.subs, addr)
	conn, hasConn := a.conns[addr]
	delete(a.conns, addr)
	delete(a.senders, addr)
	a.mu.Unlock()

	req := buildRequest("unsubscribe", nil)
	if sub != nil {
		_ = sendRequest(sub.conn, req)
		sub.Close()
	} else if hasConn {
		payload, err := wire.Encode(req)
		if err == nil {
			_, _ = conn.Write(payload)
		}
	}
	if hasConn {
		return conn.Close()
	}
	return nil
}
