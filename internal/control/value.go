package control

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Value holds a parameter value: an integer for numeric parameters, text
// for the name.
type Value struct {
	Number int
	Text   string
	text   bool
}

// IntValue wraps an integer.
func IntValue(n int) Value {
	return Value{Number: n}
}

// TextValue wraps a string.
func TextValue(s string) Value {
	return Value{Text: s, text: true}
}

// IsText reports whether the value holds text.
func (v Value) IsText() bool {
	return v.text
}

// String returns the wire form sent in a PUT body.
func (v Value) String() string {
	if v.text {
		return v.Text
	}
	return strconv.Itoa(v.Number)
}

// MarshalJSON encodes the value as a JSON number or string.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.text {
		return json.Marshal(v.Text)
	}
	return json.Marshal(v.Number)
}

// UnmarshalJSON accepts a JSON number (integral) or string.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case string:
		*v = TextValue(x)
	case float64:
		if x != float64(int(x)) {
			return fmt.Errorf("%w: %v is not an integer", ErrInvalidValue, x)
		}
		*v = IntValue(int(x))
	default:
		return fmt.Errorf("%w: expected number or string", ErrInvalidValue)
	}
	return nil
}
