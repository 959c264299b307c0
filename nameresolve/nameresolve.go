// Package nameresolve maps a logical device name to the `(host, port,
// device)` triple a client needs to address it, adapted from a
// multicast-discovered name→address table to a request/reply or
// static-file one, using a declarative, non-executable configuration
// format rather than executable name-service files.
package nameresolve

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Target is where a logical device name resolves to.
type Target struct {
	Host   string
	Port   int
	Device string
}

func (t Target) String() string {
	return t.Host + ";" + strconv.Itoa(t.Port) + ";" + t.Device
}

// Resolver maps a logical device name to a Target.
type Resolver interface {
	Resolve(name string) (Target, error)
}

// Table is a static, declarative name→Target map: external configuration
// mapping logical device names to (host, port) pairs.
type Table map[string]Target

// Resolve implements Resolver.
func (t Table) Resolve(name string) (Target, error) {
	target, ok := t[name]
	if !ok {
		return Target{}, errors.Errorf("ERR.LS no resolution for name %q", name)
	}
	return target, nil
}

// ParseTable reads a declarative name-resolution file: one entry per
// non-blank, non-comment line, in the form `name = host;port;device`
// (mirroring a "host;port;device" addressing convention, adapted to a '='
// key/value line instead of executable code). Lines starting with '#' are
// comments.
//
// The format is deliberately inert: no code is executed while parsing it.
func ParseTable(r io.Reader) (Table, error) {
	table := make(Table)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, errors.Errorf("line %d: expected \"name = host;port;device\"", lineNo)
		}
		name := strings.TrimSpace(line[:eq])
		target, err := parseTarget(strings.TrimSpace(line[eq+1:]))
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		table[name] = target
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading name resolution table")
	}
	return table, nil
}

func parseTarget(s string) (Target, error) {
	parts := strings.Split(s, ";")
	if len(parts) != 3 {
		return Target{}, errors.Errorf("expected host;port;device, got %q", s)
	}
	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Target{}, errors.Wrapf(err, "parsing port %q", parts[1])
	}
	return Target{
		Host:   strings.TrimSpace(parts[0]),
		Port:   port,
		Device: strings.TrimSpace(parts[2]),
	}, nil
}
