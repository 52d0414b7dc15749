package control

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Parameter names one of the fixed device settings. The string value is
// also the URL path segment on the device.
type Parameter string

// The complete set of device parameters.
const (
	Brightness    Parameter = "brightness"
	FrameDuration Parameter = "frame-duration"
	HuePerPixel   Parameter = "hue-per-pixel"
	HuePerFrame   Parameter = "hue-per-frame"
	Name          Parameter = "name"
)

// MaxNameLength is the longest name, in bytes, a device will store.
const MaxNameLength = 32

type parameterSpec struct {
	numeric  bool
	min, max int
	// signedByte parameters are stored as int8 on the device.
	signedByte bool
	fallback   Value
}

var parameterSpecs = map[Parameter]parameterSpec{
	Brightness:    {numeric: true, min: 0, max: 255, fallback: IntValue(0)},
	FrameDuration: {numeric: true, min: 5, max: 1000, fallback: IntValue(5)},
	HuePerPixel:   {numeric: true, min: -128, max: 127, signedByte: true, fallback: IntValue(3)},
	HuePerFrame:   {numeric: true, min: -128, max: 127, signedByte: true, fallback: IntValue(1)},
	Name:          {fallback: TextValue("")},
}

// Parameters returns every parameter in a stable order.
func Parameters() []Parameter {
	return []Parameter{Name, Brightness, FrameDuration, HuePerPixel, HuePerFrame}
}

// ParseParameter maps a name such as "frame-duration" to its Parameter.
// Underscores are accepted in place of dashes.
func ParseParameter(s string) (Parameter, error) {
	p := Parameter(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if _, ok := parameterSpecs[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownParameter, s)
	}
	return p, nil
}

// Path returns the device URL path for the parameter.
func (p Parameter) Path() string {
	return "/" + string(p)
}

// Numeric reports whether the parameter holds an integer.
func (p Parameter) Numeric() bool {
	return parameterSpecs[p].numeric
}

// Bounds returns the accepted range for a numeric parameter.
func (p Parameter) Bounds() (min, max int) {
	s := parameterSpecs[p]
	return s.min, s.max
}

// Default returns the value used when a GET for the parameter fails.
func (p Parameter) Default() Value {
	return parameterSpecs[p].fallback
}

// Validate checks v against the parameter's kind and bounds.
func (p Parameter) Validate(v Value) error {
	spec, ok := parameterSpecs[p]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParameter, string(p))
	}

	if spec.numeric {
		if v.IsText() {
			return fmt.Errorf("%w: %s expects a number", ErrInvalidValue, p)
		}
		if v.Number < spec.min || v.Number > spec.max {
			return fmt.Errorf("%w: %s=%d outside %d..%d", ErrInvalidValue, p, v.Number, spec.min, spec.max)
		}
		return nil
	}

	if !v.IsText() {
		return fmt.Errorf("%w: %s expects text", ErrInvalidValue, p)
	}
	if len(v.Text) > MaxNameLength {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidValue, p, MaxNameLength)
	}
	if strings.IndexFunc(v.Text, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: %s contains control characters", ErrInvalidValue, p)
	}
	return nil
}

// Clamp forces v into the parameter's accepted range: numbers are pinned to
// the bounds, names lose control characters and are cut to MaxNameLength
// bytes on a rune boundary. A value of the wrong kind is replaced by the
// parameter default.
func (p Parameter) Clamp(v Value) Value {
	spec, ok := parameterSpecs[p]
	if !ok {
		return v
	}

	if spec.numeric {
		if v.IsText() {
			return spec.fallback
		}
		return IntValue(min(max(v.Number, spec.min), spec.max))
	}

	if !v.IsText() {
		return spec.fallback
	}
	name := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, v.Text)
	for len(name) > MaxNameLength {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return TextValue(name)
}

// ParseValue interprets raw user input (a CLI argument or an MQTT payload)
// for the parameter. Numbers must be base-10 integers.
func ParseValue(p Parameter, raw string) (Value, error) {
	spec, ok := parameterSpecs[p]
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownParameter, string(p))
	}
	if !spec.numeric {
		return TextValue(raw), nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return Value{}, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidValue, p, raw)
	}
	return IntValue(n), nil
}

// decode turns a trimmed device response body into a Value. Signed-byte
// parameters are normalised so a device reporting 255 reads as -1.
func (p Parameter) decode(body string) (Value, error) {
	spec := parameterSpecs[p]
	if !spec.numeric {
		return TextValue(body), nil
	}
	n, err := strconv.Atoi(body)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %s body %q", ErrParse, p, body)
	}
	if spec.signedByte {
		n = int(int8(n))
	}
	return IntValue(n), nil
}
