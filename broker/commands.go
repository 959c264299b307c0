package broker

import (
	"github.com/pkg/errors"

	"github.com/sukhanov/goliteserver/device"
	"github.com/sukhanov/goliteserver/ldo"
	"github.com/sukhanov/goliteserver/protocol/wire"
	"github.com/sukhanov/goliteserver/support/network"
)

// resolved is one fully-expanded (host, device, parameter) target produced
// while walking a request's args.
type resolved struct {
	host  string
	dev   *device.Device
	param string
}

// resolveArgs expands every specifier's cnsDeviceName and parameter list
// against the registry, applying wildcard rules.
func (b *Broker) resolveArgs(args []wire.Specifier) ([]resolved, error) {
	var out []resolved
	for _, spec := range args {
		host, devName, err := splitCNSDeviceName(spec.CNSDeviceName)
		if err != nil {
			return nil, err
		}
		devNames, err := b.Registry.ExpandDeviceNames(devName)
		if err != nil {
			return nil, err
		}
		for _, dn := range devNames {
			d, err := b.Registry.MustGet(dn)
			if err != nil {
				return nil, err
			}
			params, err := d.ExpandParameters(spec.Parameters)
			if err != nil {
				return nil, err
			}
			for _, p := range params {
				out = append(out, resolved{host: host, dev: d, param: p})
			}
		}
	}
	return out, nil
}

func (b *Broker) handleInfo(req *Request) (wire.Value, error) {
	targets, err := b.resolveArgs(req.Args)
	if err != nil {
		return wire.Value{}, err
	}
	property := "*"
	if len(req.Args) > 0 && req.Args[0].Property != "" {
		property = req.Args[0].Property
	}

	reply := map[string]wire.Value{}
	for _, t := range targets {
		l := t.dev.LDO(t.param)
		reply[replyKey(t.host, t.dev.Name, t.param)] = valueCell(l, property)
	}
	return wire.Object(reply), nil
}

func (b *Broker) handleGet(req *Request) (wire.Value, error) {
	targets, err := b.resolveArgs(req.Args)
	if err != nil {
		return wire.Value{}, err
	}
	property := ""
	if len(req.Args) > 0 {
		property = req.Args[0].Property
	}

	reply := map[string]wire.Value{}
	for _, t := range targets {
		l := t.dev.LDO(t.param)
		if err := l.Refresh(); err != nil {
			b.Logger.Warnf("refreshing %s:%s: %v", t.dev.Name, t.param, err)
		}
		reply[replyKey(t.host, t.dev.Name, t.param)] = valueCell(l, property)
	}
	return wire.Object(reply), nil
}

// handleRead implements the publisher's change-filtered "read": only
// Readable parameters whose timestamp has advanced since the owning
// device's last publish round are included.
func (b *Broker) handleRead(req *Request) (wire.Value, error) {
	targets, err := b.resolveArgs(req.Args)
	if err != nil {
		return wire.Value{}, err
	}
	property := ""
	if len(req.Args) > 0 {
		property = req.Args[0].Property
	}

	reply := map[string]wire.Value{}
	for _, t := range targets {
		l := t.dev.LDO(t.param)
		if !l.Features.Has(ldo.Readable) {
			continue
		}
		if l.Timestamp() <= t.dev.LastPublishTime() {
			continue
		}
		reply[replyKey(t.host, t.dev.Name, t.param)] = valueCell(l, property)
	}
	return wire.Object(reply), nil
}

// handleSet implements "set": single device only, enforcing the
// coercion/opLimits/legalValues/setter chain already implemented by
// ldo.LDO.Set, and replying with the new value.
func (b *Broker) handleSet(req *Request) (wire.Value, error) {
	if len(req.Args) != 1 {
		return wire.Value{}, errors.New("ERR.LS set requires exactly one device")
	}
	spec := req.Args[0]
	host, devName, err := splitCNSDeviceName(spec.CNSDeviceName)
	if err != nil {
		return wire.Value{}, err
	}
	if devName == "*" {
		return wire.Value{}, errors.New("ERR.LS set does not accept a wildcard device")
	}
	d, err := b.Registry.MustGet(devName)
	if err != nil {
		return wire.Value{}, err
	}
	params, err := d.ExpandParameters(spec.Parameters)
	if err != nil {
		return wire.Value{}, err
	}
	if len(params) != 1 {
		return wire.Value{}, errors.New("ERR.LS set requires exactly one parameter")
	}
	l := d.LDO(params[0])

	if err := l.Set(spec.Values); err != nil {
		return wire.Value{}, errors.Wrap(err, "ERR.LS set")
	}

	reply := map[string]wire.Value{
		replyKey(host, d.Name, params[0]): valueCell(l, ""),
	}
	return wire.Object(reply), nil
}

// handleSubscribe registers clientHostPort in every addressed device's
// subscriber table.
func (b *Broker) handleSubscribe(req *Request, clientHostPort string, sender network.DatagramSender) (wire.Value, error) {
	reply := map[string]wire.Value{"status": wire.String("subscribed")}

	for _, spec := range req.Args {
		host, devName, err := splitCNSDeviceName(spec.CNSDeviceName)
		if err != nil {
			return wire.Value{}, err
		}
		devNames, err := b.Registry.ExpandDeviceNames(devName)
		if err != nil {
			return wire.Value{}, err
		}
		for _, dn := range devNames {
			d, err := b.Registry.MustGet(dn)
			if err != nil {
				return wire.Value{}, err
			}

			wildcard := len(spec.Parameters) == 1 && spec.Parameters[0] == "*"
			params := spec.Parameters
			if wildcard {
				// Attach to the master parameter: the first readable
				// parameter of the device, when '*' was used.
				master, ok := d.MasterParameter()
				if !ok {
					return wire.Value{}, errors.Errorf("ERR.LS device %s has no readable parameter", d.Name)
				}
				params = []string{master}
			} else if _, err := d.ExpandParameters(params); err != nil {
				return wire.Value{}, err
			}

			d.RegisterSubscriber(clientHostPort, sender, params)
			_ = host
		}
	}
	return wire.Object(reply), nil
}

func replyKey(host, devName, param string) string {
	return host + ":" + devName + ":" + param
}
