package nameresolve

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// DefaultNATSTimeout bounds how long NATSResolver waits for a reply.
const DefaultNATSTimeout = 2 * time.Second

// NATSResolver resolves names against a shared NATS request/reply
// subject, for deployments that already run a NATS bus for service
// discovery alongside the default UDP name resolution — any central
// lookup device is permitted; this is an alternate transport to the same
// concept, not a protocol requirement.
type NATSResolver struct {
	Conn    *nats.Conn
	Subject string
	Timeout time.Duration
}

func (r *NATSResolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultNATSTimeout
}

// Resolve implements Resolver, publishing name as the request payload and
// parsing the reply body as a "host;port;device" Target (the same wire
// form ParseTable uses).
func (r *NATSResolver) Resolve(name string) (Target, error) {
	msg, err := r.Conn.Request(r.Subject, []byte(name), r.timeout())
	if err != nil {
		return Target{}, errors.Wrapf(err, "NATS resolve request for %q", name)
	}
	return parseTarget(string(msg.Data))
}
