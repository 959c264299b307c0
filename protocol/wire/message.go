package wire

import "github.com/pkg/errors"

// Request is a decoded `{"cmd": [command, args], "username":, "program":,
// "pid":}` request message.
type Request struct {
	Command  string
	Args     []Specifier
	Username string
	Program  string
	PID      int64
}

// Specifier is one `[cnsDeviceName, specifier]` tuple of a request's args.
//
// cnsDeviceName is the raw "host:device" string; Parameters, Property and
// Values decompose the specifier's `[parameters]`, `[parameters, property]`
// or `[parameters, property, values]` shape.
type Specifier struct {
	CNSDeviceName string
	Parameters    []string
	Property      string
	Values        []Value
}

// DecodeRequest parses a Request out of a decoded top-level object Value.
func DecodeRequest(v Value) (*Request, error) {
	if v.Kind != KindObject {
		return nil, errors.New("request is not an object")
	}

	cmdVal, ok := v.Object["cmd"]
	if !ok {
		return nil, errors.New("ERR.LS missing \"cmd\"")
	}
	if cmdVal.Kind != KindArray || len(cmdVal.Array) != 2 {
		return nil, errors.New("ERR.LS \"cmd\" must be [command, args]")
	}
	if cmdVal.Array[0].Kind != KindString {
		return nil, errors.New("ERR.LS command name must be a string")
	}

	req := &Request{Command: cmdVal.Array[0].Str}

	argsVal := cmdVal.Array[1]
	if argsVal.Kind != KindArray {
		return nil, errors.New("ERR.LS args must be an array")
	}
	for _, tup := range argsVal.Array {
		spec, err := decodeSpecifier(tup)
		if err != nil {
			return nil, err
		}
		req.Args = append(req.Args, spec)
	}

	if u, ok := v.Object["username"]; ok && u.Kind == KindString {
		req.Username = u.Str
	}
	if p, ok := v.Object["program"]; ok && p.Kind == KindString {
		req.Program = p.Str
	}
	if p, ok := v.Object["pid"]; ok && p.Kind == KindInt {
		req.PID = p.Int
	}

	return req, nil
}

func decodeSpecifier(tup Value) (Specifier, error) {
	if tup.Kind != KindArray || len(tup.Array) != 2 {
		return Specifier{}, errors.New("ERR.LS arg tuple must be [cnsDeviceName, specifier]")
	}
	if tup.Array[0].Kind != KindString {
		return Specifier{}, errors.New("ERR.LS cnsDeviceName must be a string")
	}
	spec := Specifier{CNSDeviceName: tup.Array[0].Str}

	specVal := tup.Array[1]
	if specVal.Kind != KindArray || len(specVal.Array) == 0 {
		return Specifier{}, errors.New("ERR.LS specifier must be [parameters, ...]")
	}

	paramsVal := specVal.Array[0]
	switch paramsVal.Kind {
	case KindString:
		spec.Parameters = []string{paramsVal.Str}
	case KindArray:
		for _, p := range paramsVal.Array {
			if p.Kind != KindString {
				return Specifier{}, errors.New("ERR.LS parameters must be strings")
			}
			spec.Parameters = append(spec.Parameters, p.Str)
		}
	default:
		return Specifier{}, errors.New("ERR.LS parameters must be a string or array of strings")
	}

	if len(specVal.Array) >= 2 {
		if specVal.Array[1].Kind != KindString {
			return Specifier{}, errors.New("ERR.LS property must be a string")
		}
		spec.Property = specVal.Array[1].Str
	}
	if len(specVal.Array) >= 3 {
		if specVal.Array[2].Kind != KindArray {
			return Specifier{}, errors.New("ERR.LS values must be an array")
		}
		spec.Values = specVal.Array[2].Array
	}

	return spec, nil
}

// ErrorReply builds the plain-string error reply value used for protocol,
// name, and type/value errors. msg should already begin with "ERR.LS" or
// "WARNING".
func ErrorReply(msg string) Value { return String(msg) }

// IsError reports whether a decoded reply is an error string: clients raise
// on an "ERR" prefix.
func IsError(v Value) bool {
	return v.Kind == KindString && len(v.Str) >= 3 && v.Str[:3] == "ERR"
}
