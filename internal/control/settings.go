package control

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Settings is the full set of parameter values for one device.
type Settings struct {
	Name          string `json:"name"`
	Brightness    int    `json:"brightness"`
	FrameDuration int    `json:"frame_duration"`
	HuePerPixel   int    `json:"hue_per_pixel"`
	HuePerFrame   int    `json:"hue_per_frame"`
}

// DefaultSettings returns the values a device is assumed to have when
// nothing could be read from it.
func DefaultSettings() Settings {
	var s Settings
	for _, p := range Parameters() {
		s.Set(p, p.Default())
	}
	return s
}

// Get returns the value of one parameter.
func (s Settings) Get(p Parameter) Value {
	switch p {
	case Name:
		return TextValue(s.Name)
	case Brightness:
		return IntValue(s.Brightness)
	case FrameDuration:
		return IntValue(s.FrameDuration)
	case HuePerPixel:
		return IntValue(s.HuePerPixel)
	case HuePerFrame:
		return IntValue(s.HuePerFrame)
	}
	return Value{}
}

// Set stores one parameter value. Values of the wrong kind are ignored.
func (s *Settings) Set(p Parameter, v Value) {
	if p == Name {
		if v.IsText() {
			s.Name = v.Text
		}
		return
	}
	if v.IsText() {
		return
	}
	switch p {
	case Brightness:
		s.Brightness = v.Number
	case FrameDuration:
		s.FrameDuration = v.Number
	case HuePerPixel:
		s.HuePerPixel = v.Number
	case HuePerFrame:
		s.HuePerFrame = v.Number
	}
}

// RefreshError collects the per-parameter failures of a Refresh. It unwraps
// to every underlying error, so errors.Is(err, ErrConnection) works.
type RefreshError struct {
	Failures map[Parameter]error
}

func (e *RefreshError) Error() string {
	params := make([]string, 0, len(e.Failures))
	for p := range e.Failures {
		params = append(params, string(p))
	}
	sort.Strings(params)

	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, fmt.Sprintf("%s: %v", p, e.Failures[Parameter(p)]))
	}
	return "refresh: " + strings.Join(parts, "; ")
}

func (e *RefreshError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}

// AsRefreshError extracts a *RefreshError from err, if there is one.
func AsRefreshError(err error) (*RefreshError, bool) {
	var re *RefreshError
	ok := errors.As(err, &re)
	return re, ok
}
