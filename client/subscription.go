package client

import (
	"net"

	"github.com/sukhanov/goliteserver/protocol/chunk"
	"github.com/sukhanov/goliteserver/protocol/wire"
	"github.com/sukhanov/goliteserver/support/logging"
)

// SubscriptionSocket owns one persistent UDP connection to a single remote
// server, receiving published replies for every subscription active on
// that server and invoking one callback per delivery.
//
// A dedicated connection per server — rather than sharing Access's cached
// request/reply connection — avoids a read race between a direct
// transact() call and this socket's own receive loop (see DESIGN.md).
type SubscriptionSocket struct {
	Addr     string
	Logger   logging.L
	conn     *net.UDPConn
	callback func(map[string]wire.Value)
	done     chan struct{}
}

func newSubscriptionSocket(addr string, conn *net.UDPConn, callback func(map[string]wire.Value), logger logging.L) *SubscriptionSocket {
	return &SubscriptionSocket{
		Addr:     addr,
		Logger:   logger,
		conn:     conn,
		callback: callback,
		done:     make(chan struct{}),
	}
}

// run is the receive loop: reassemble each published reply, service any
// retransmit gaps, deliver the callback, and ACK.
func (s *SubscriptionSocket) run() {
	var asm chunk.Assembler
	buf := make([]byte, 65507)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, err := s.conn.Read(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.Logger.Warnf("subscription read from %s: %v", s.Addr, err)
				return
			}
		}

		dg := append([]byte(nil), buf[:n]...)
		if chunk.IsBeacon(dg) {
			continue
		}

		done, err := asm.AddDatagram(dg)
		if err != nil {
			s.Logger.Warnf("subscription reassembly from %s: %v", s.Addr, err)
			asm.Reset()
			continue
		}
		if !done {
			continue
		}

		gaps := asm.Gaps()
		if len(gaps) > 0 {
			for _, g := range gaps {
				if err := sendRetransmitRequest(s.conn, g.Offset, g.Length); err != nil {
					s.Logger.Warnf("requesting retransmit from %s: %v", s.Addr, err)
				}
			}
			continue
		}

		payload, err := asm.Payload()
		asm.Reset()
		if err != nil {
			s.Logger.Warnf("subscription payload from %s: %v", s.Addr, err)
			continue
		}

		reply, err := wire.Decode(payload)
		if err != nil {
			s.Logger.Warnf("subscription decode from %s: %v", s.Addr, err)
			continue
		}
		if _, err := s.conn.Write([]byte("ACK")); err != nil {
			s.Logger.Warnf("sending subscription ACK to %s: %v", s.Addr, err)
		}
		if !wire.IsError(reply) && s.callback != nil {
			s.callback(reply.Object)
		}
	}
}

// sendRequest encodes and writes req on conn without reading a reply, for
// callers that must not race a concurrent reader already on the socket.
func sendRequest(conn *net.UDPConn, req wire.Value) error {
	payload, err := wire.Encode(req)
	if err != nil {
		return err
	}
	_, err = conn.Write(payload)
	return err
}

func sendRetransmitRequest(conn *net.UDPConn, offset, length int) error {
	req := wire.Object(map[string]wire.Value{
		"cmd": wire.Array(wire.String("retransmit"), wire.Array(
			wire.Array(wire.String(""), wire.Array(
				wire.Array(),
				wire.String(""),
				wire.Array(wire.Int(int64(offset)), wire.Int(int64(length))),
			)),
		)),
	})
	payload, err := wire.Encode(req)
	if err != nil {
		return err
	}
	_, err = conn.Write(payload)
	return err
}

// Close stops the receive loop and closes its dedicated connection.
func (s *SubscriptionSocket) Close() {
	close(s.done)
	_ = s.conn.Close()
}
