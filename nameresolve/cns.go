package nameresolve

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/sukhanov/goliteserver/protocol/chunk"
	"github.com/sukhanov/goliteserver/protocol/wire"
)

// DefaultCNSTimeout bounds how long CNSResolver waits for a reply.
const DefaultCNSTimeout = 2 * time.Second

// CNSResolver resolves names against a central `liteCNS` server device
// whose `query` LDO accepts a name and returns its resolution — a redirect
// pointer to a central name-resolution server device.
//
// CNSResolver is a thin client of the same wire protocol the broker
// package serves; it does not depend on the broker or client packages to
// avoid a cycle (client will use CNSResolver, not the reverse).
type CNSResolver struct {
	// Addr is the "host:port" of the liteCNS server.
	Addr string
	// Host is the cnsDeviceName host label used to address the query;
	// purely cosmetic, echoed back in the reply key.
	Host string

	Timeout time.Duration
}

func (c *CNSResolver) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultCNSTimeout
}

// Resolve implements Resolver by issuing a `set` on liteCNS's `query` LDO
// and reading back the resolution it returns.
func (c *CNSResolver) Resolve(name string) (Target, error) {
	conn, err := net.Dial("udp", c.Addr)
	if err != nil {
		return Target{}, errors.Wrap(err, "dialing liteCNS")
	}
	defer conn.Close()

	req := wire.Object(map[string]wire.Value{
		"cmd": wire.Array(wire.String("set"), wire.Array(
			wire.Array(
				wire.String(c.Host+":liteCNS"),
				wire.Array(wire.Array(wire.String("query")), wire.String(""), wire.Array(wire.String(name))),
			),
		)),
	})
	payload, err := wire.Encode(req)
	if err != nil {
		return Target{}, errors.Wrap(err, "encoding liteCNS query")
	}

	if err := conn.SetDeadline(time.Now().Add(c.timeout())); err != nil {
		return Target{}, err
	}
	if _, err := conn.Write(payload); err != nil {
		return Target{}, errors.Wrap(err, "sending liteCNS query")
	}

	buf := make([]byte, 65507)
	n, err := conn.Read(buf)
	if err != nil {
		return Target{}, errors.Wrap(err, "reading liteCNS reply")
	}

	offset, body, err := chunk.DecodeDatagram(buf[:n])
	if err != nil {
		return Target{}, errors.Wrap(err, "decoding liteCNS reply framing")
	}
	if offset != 0 {
		return Target{}, errors.New("liteCNS reply did not fit in a single chunk")
	}

	reply, err := wire.Decode(body)
	if err != nil {
		return Target{}, errors.Wrap(err, "decoding liteCNS reply")
	}
	if wire.IsError(reply) {
		return Target{}, errors.New(reply.Str)
	}

	cell, ok := reply.Object[c.Host+":liteCNS:query"]
	if !ok || cell.Object == nil {
		return Target{}, errors.New("liteCNS reply missing query result")
	}
	val, ok := cell.Object["value"]
	if !ok || val.Kind != wire.KindString {
		return Target{}, errors.New("liteCNS query result is not a string")
	}

	return parseTarget(val.Str)
}
