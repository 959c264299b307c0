package wire

import "github.com/pkg/errors"

// DtypeSize returns the element size, in bytes, of a numpy dtype tag: a
// compact string identifying the element type.
func DtypeSize(dtype string) (int, error) {
	switch dtype {
	case "int8", "uint8", "bool":
		return 1, nil
	case "int16", "uint16":
		return 2, nil
	case "int32", "uint32", "float32":
		return 4, nil
	case "int64", "uint64", "float64":
		return 8, nil
	default:
		return 0, errors.Errorf("unknown numpy dtype %q", dtype)
	}
}

// NumpyElementCount returns the total element count implied by shape.
func NumpyElementCount(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
