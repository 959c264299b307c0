package wire

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/sukhanov/goliteserver/support/byteslicereader"
)

// Decode parses a single UBJSON value from data.
//
// If data contains trailing bytes after the value, they are ignored; callers
// that require the whole buffer to be consumed should check r.Remaining()
// themselves via DecodeAll.
func Decode(data []byte) (Value, error) {
	r := byteslicereader.R{Buffer: data}
	return decodeValue(&r)
}

// DecodeAll parses a single UBJSON value from data and errors if any bytes
// remain unconsumed.
func DecodeAll(data []byte) (Value, error) {
	r := byteslicereader.R{Buffer: data}
	v, err := decodeValue(&r)
	if err != nil {
		return Value{}, err
	}
	if r.Remaining() != 0 {
		return Value{}, errors.Errorf("%d trailing bytes after value", r.Remaining())
	}
	return v, nil
}

func decodeValue(r *byteslicereader.R) (Value, error) {
	marker, err := r.ReadByte()
	if err != nil {
		return Value{}, errors.Wrap(err, "reading marker")
	}
	return decodeValueWithMarker(r, marker)
}

func decodeValueWithMarker(r *byteslicereader.R, marker byte) (Value, error) {
	switch marker {
	case markerNull:
		return Null, nil
	case markerTrue:
		return True, nil
	case markerFalse:
		return False, nil
	case markerInt8:
		b, err := r.ReadByte()
		return Int(int64(int8(b))), err
	case markerUint8:
		b, err := r.ReadByte()
		return Int(int64(b)), err
	case markerInt16:
		b, err := r.Next(2)
		if len(b) < 2 {
			return Value{}, err
		}
		return Int(int64(int16(binary.BigEndian.Uint16(b)))), nil
	case markerInt32:
		b, err := r.Next(4)
		if len(b) < 4 {
			return Value{}, err
		}
		return Int(int64(int32(binary.BigEndian.Uint32(b)))), nil
	case markerInt64:
		b, err := r.Next(8)
		if len(b) < 8 {
			return Value{}, err
		}
		return Int(int64(binary.BigEndian.Uint64(b))), nil
	case markerFloat32:
		b, err := r.Next(4)
		if len(b) < 4 {
			return Value{}, err
		}
		return Float(float64(math.Float32frombits(binary.BigEndian.Uint32(b)))), nil
	case markerFloat64:
		b, err := r.Next(8)
		if len(b) < 8 {
			return Value{}, err
		}
		return Float(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	case markerChar:
		b, err := r.ReadByte()
		return String(string(rune(b))), err
	case markerString:
		return decodeString(r)
	case markerArrayStart:
		return decodeArray(r)
	case markerObjectStart:
		return decodeObject(r)
	case markerNoOp:
		return decodeValue(r)
	default:
		return Value{}, errors.Errorf("unsupported marker %q (0x%02x)", marker, marker)
	}
}

func decodeLength(r *byteslicereader.R) (int, error) {
	v, err := decodeValue(r)
	if err != nil {
		return 0, errors.Wrap(err, "reading length")
	}
	if v.Kind != KindInt {
		return 0, errors.Errorf("length is not an int (kind=%d)", v.Kind)
	}
	return int(v.Int), nil
}

func decodeString(r *byteslicereader.R) (Value, error) {
	n, err := decodeLength(r)
	if err != nil {
		return Value{}, err
	}
	b, err := r.Next(n)
	if len(b) < n {
		return Value{}, errors.Wrap(err, "reading string body")
	}
	return String(string(b)), nil
}

// decodeArray handles both generic heterogeneous arrays and the optimized
// '$'-typed, '#'-counted byte-array form produced by encodeBytes.
func decodeArray(r *byteslicereader.R) (Value, error) {
	marker, err := r.PeekByte()
	if err == nil && marker == markerType {
		r.ReadByte() // consume '$'
		typeMarker, err := r.ReadByte()
		if err != nil {
			return Value{}, err
		}
		countMarker, err := r.ReadByte()
		if err != nil || countMarker != markerCount {
			return Value{}, errors.New("expected '#' after typed array marker")
		}
		n, err := decodeLength(r)
		if err != nil {
			return Value{}, err
		}

		if typeMarker == markerUint8 {
			raw, err := r.Next(n)
			if len(raw) < n {
				return Value{}, errors.Wrap(err, "reading typed byte array body")
			}
			return Value{Kind: KindBytes, Bytes: append([]byte(nil), raw...)}, nil
		}

		elems := make([]Value, n)
		for i := 0; i < n; i++ {
			elems[i], err = decodeValueWithMarker(r, typeMarker)
			if err != nil {
				return Value{}, err
			}
		}
		return Array(elems...), nil
	}

	var elems []Value
	for {
		marker, err := r.ReadByte()
		if err != nil {
			return Value{}, errors.Wrap(err, "reading array element")
		}
		if marker == markerArrayEnd {
			return Array(elems...), nil
		}
		v, err := decodeValueWithMarker(r, marker)
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, v)
	}
}

func decodeObject(r *byteslicereader.R) (Value, error) {
	obj := map[string]Value{}
	for {
		marker, err := r.ReadByte()
		if err != nil {
			return Value{}, errors.Wrap(err, "reading object key")
		}
		if marker == markerObjectEnd {
			break
		}
		if marker != markerString {
			return Value{}, errors.Errorf("object key must be a string, got marker %q", marker)
		}
		keyVal, err := decodeString(r)
		if err != nil {
			return Value{}, err
		}
		val, err := decodeValue(r)
		if err != nil {
			return Value{}, err
		}
		obj[keyVal.Str] = val
	}

	result := Object(obj)
	if numpyVal, ok := obj["numpy"]; ok {
		if valueVal, ok := obj["value"]; ok && valueVal.Kind == KindBytes {
			numpy, err := numpyFromValue(numpyVal, valueVal.Bytes)
			if err != nil {
				return Value{}, errors.Wrap(err, "decoding numpy shortcut")
			}
			delete(obj, "numpy")
			delete(obj, "value")
			result.Numpy = numpy
		}
	}
	return result, nil
}

func numpyFromValue(v Value, raw []byte) (*Numpy, error) {
	if v.Kind != KindArray || len(v.Array) != 2 {
		return nil, errors.New("numpy tag must be [shape, dtype]")
	}
	shapeVal, dtypeVal := v.Array[0], v.Array[1]
	if shapeVal.Kind != KindArray || dtypeVal.Kind != KindString {
		return nil, errors.New("numpy tag must be [[shape...], dtype]")
	}
	shape := make([]int, len(shapeVal.Array))
	for i, d := range shapeVal.Array {
		if d.Kind != KindInt {
			return nil, errors.New("numpy shape elements must be ints")
		}
		shape[i] = int(d.Int)
	}
	return &Numpy{Shape: shape, Dtype: dtypeVal.Str, Raw: raw}, nil
}
