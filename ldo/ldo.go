// Package ldo implements the Lite Data Object: a typed, timestamped,
// annotated parameter.
package ldo

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/sukhanov/goliteserver/protocol/wire"
)

// Feature is a single-character flag in an LDO's feature set.
type Feature uint8

const (
	Readable   Feature = 1 << iota // R
	Writable                       // W
	Discrete                       // D
	Editable                       // E
	Diagnostic                     // I
)

// String renders f as its wire feature-letter string, e.g. "RW".
func (f Feature) String() string {
	var out []byte
	for _, e := range []struct {
		bit Feature
		ch  byte
	}{
		{Readable, 'R'}, {Writable, 'W'}, {Discrete, 'D'}, {Editable, 'E'}, {Diagnostic, 'I'},
	} {
		if f&e.bit != 0 {
			out = append(out, e.ch)
		}
	}
	return string(out)
}

// Has reports whether f contains every bit in mask.
func (f Feature) Has(mask Feature) bool { return f&mask == mask }

// Setter is invoked when a client writes a new value to an LDO.
//
// OnSet is called with the LDO's previous and proposed value slices, after
// type coercion, opLimits and legalValues have already passed. Returning an
// error aborts the set and reverts to old.
type Setter interface {
	OnSet(old, new []wire.Value) error
}

// Getter is invoked on a read/get to lazily refresh a value before it is
// returned.
type Getter interface {
	Refresh(l *LDO) error
}

// SetterFunc adapts a function to a Setter.
type SetterFunc func(old, new []wire.Value) error

func (f SetterFunc) OnSet(old, new []wire.Value) error { return f(old, new) }

// GetterFunc adapts a function to a Getter.
type GetterFunc func(l *LDO) error

func (f GetterFunc) Refresh(l *LDO) error { return f(l) }

// Limits is an optional inclusive numeric (low, high) bound checked on set.
// Either bound may be nil to leave it unchecked.
type Limits struct {
	Low, High *float64
}

// Check reports whether v falls within the limits; a nil bound on either
// side leaves that bound unchecked.
func (l *Limits) Check(v float64) error {
	if l == nil {
		return nil
	}
	if l.Low != nil && v < *l.Low {
		return errors.Errorf("value %v below lower limit %v", v, *l.Low)
	}
	if l.High != nil && v > *l.High {
		return errors.Errorf("value %v above upper limit %v", v, *l.High)
	}
	return nil
}

// LDO is one named, typed, timestamped parameter.
//
// LDO is safe for concurrent use: all field access goes through its methods,
// which take an internal mutex.
type LDO struct {
	Name string

	Desc     string
	Units    string
	Type     string
	Features Feature

	OpLimits    *Limits
	LegalValues []wire.Value

	Setter Setter
	Getter Getter

	mu        sync.Mutex
	value     []wire.Value
	timestamp float64
}

// New creates an LDO named name with the given initial scalar or sequence
// value. A value is never a bare scalar internally: New always wraps a
// non-array initial in a length-1 slice.
func New(name string, features Feature, initial ...wire.Value) *LDO {
	return &LDO{
		Name:      name,
		Features:  features,
		value:     append([]wire.Value(nil), initial...),
		timestamp: now(),
	}
}

// now is a seam for tests; production code calls time.Now().
var now = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// Count returns the cardinality of Value.
func (l *LDO) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.value)
}

// Value returns a copy of the LDO's current value slice and timestamp.
func (l *LDO) Value() ([]wire.Value, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]wire.Value(nil), l.value...), l.timestamp
}

// Timestamp returns the LDO's current timestamp without copying the value.
func (l *LDO) Timestamp() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timestamp
}

// SetValueAndTimestamp atomically writes both fields: the preferred path
// for device threads producing data, bypassing opLimits/legalValues/Setter
// (those only gate client-driven Set calls).
func (l *LDO) SetValueAndTimestamp(v []wire.Value, ts float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = append([]wire.Value(nil), v...)
	l.timestamp = ts
}

// Refresh invokes the LDO's Getter, if any.
func (l *LDO) Refresh() error {
	if l.Getter == nil {
		return nil
	}
	return l.Getter.Refresh(l)
}

// Set validates and applies a client-driven write.
//
// Set enforces, in order: W feature presence, bool coercion, int-to-float
// coercion, opLimits, legalValues, then invokes Setter. On Setter failure,
// the previous value is restored and the error is returned unchanged so the
// broker can surface it as an ERR.LS reply.
func (l *LDO) Set(vals []wire.Value) error {
	if !l.Features.Has(Writable) {
		return errors.Errorf("%s is not writable", l.Name)
	}

	vals = normalizeBool(l, vals)
	vals = normalizeFloat(l, vals)

	if l.OpLimits != nil {
		floats, err := valuesToFloats(vals)
		if err != nil {
			return err
		}
		for _, f := range floats {
			if err := l.OpLimits.Check(f); err != nil {
				return err
			}
		}
	}
	if len(l.LegalValues) > 0 {
		for _, v := range vals {
			if !containsValue(l.LegalValues, v) {
				return errors.Errorf("%v is not a legal value for %s", v, l.Name)
			}
		}
	}

	l.mu.Lock()
	old := l.value
	l.value = vals
	l.timestamp = now()
	setter := l.Setter
	l.mu.Unlock()

	if setter != nil {
		if err := setter.OnSet(old, vals); err != nil {
			l.mu.Lock()
			l.value = old
			l.mu.Unlock()
			return err
		}
	}
	return nil
}

// normalizeBool coerces any truthy set value on a boolean LDO to true.
func normalizeBool(l *LDO, vals []wire.Value) []wire.Value {
	if l.Type != "bool" {
		return vals
	}
	out := make([]wire.Value, len(vals))
	for i, v := range vals {
		out[i] = wire.Value{Kind: wire.KindBool, Bool: isTruthy(v)}
	}
	return out
}

// normalizeFloat coerces an int set value to float on a float-typed LDO, so
// the stored value's Kind always matches the declared Type.
func normalizeFloat(l *LDO, vals []wire.Value) []wire.Value {
	if l.Type != "float" {
		return vals
	}
	out := make([]wire.Value, len(vals))
	for i, v := range vals {
		if v.Kind == wire.KindInt {
			out[i] = wire.Value{Kind: wire.KindFloat, Float: float64(v.Int)}
		} else {
			out[i] = v
		}
	}
	return out
}

func isTruthy(v wire.Value) bool {
	switch v.Kind {
	case wire.KindBool:
		return v.Bool
	case wire.KindInt:
		return v.Int != 0
	case wire.KindFloat:
		return v.Float != 0
	case wire.KindString:
		return v.Str != ""
	default:
		return false
	}
}

func valuesToFloats(vals []wire.Value) ([]float64, error) {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		f, err := v.AsFloat64Slice()
		if err != nil {
			return nil, err
		}
		out = append(out, f...)
	}
	return out, nil
}

func containsValue(set []wire.Value, v wire.Value) bool {
	for _, s := range set {
		if valuesEqual(s, v) {
			return true
		}
	}
	return false
}

// valuesEqual checks legalValues membership as strict equality, allowing
// numerically-equal int/float pairs to match (a type mismatch on set
// coerces when possible, and that rule applies here too).
func valuesEqual(a, b wire.Value) bool {
	if a.Kind == b.Kind {
		switch a.Kind {
		case wire.KindInt:
			return a.Int == b.Int
		case wire.KindFloat:
			return a.Float == b.Float
		case wire.KindString:
			return a.Str == b.Str
		case wire.KindBool:
			return a.Bool == b.Bool
		}
	}
	af, aerr := a.AsFloat64Slice()
	bf, berr := b.AsFloat64Slice()
	if aerr == nil && berr == nil && len(af) == 1 && len(bf) == 1 {
		return af[0] == bf[0]
	}
	return false
}
