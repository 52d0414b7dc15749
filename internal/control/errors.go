package control

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors for the control package.
//
// Every error returned by a Client wraps exactly one of these, so callers
// can branch with errors.Is. None of them are fatal:
//
//	if errors.Is(err, control.ErrConnection) {
//	    // device unreachable, keep the user's intent and try again later
//	}
var (
	// ErrConnection covers dial and DNS failures, timeouts, unreadable
	// bodies and non-2xx responses.
	ErrConnection = errors.New("control: connection failed")

	// ErrParse is returned when a response body is not valid for the parameter type.
	ErrParse = errors.New("control: unparsable response")

	// ErrInvalidValue is returned when a value is rejected before any network I/O.
	ErrInvalidValue = errors.New("control: invalid value")

	// ErrUnknownParameter is returned for a parameter name outside the fixed set.
	ErrUnknownParameter = errors.New("control: unknown parameter")
)

// StatusError reports a non-2xx response from a device. It unwraps to
// ErrConnection.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.Path, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error {
	return ErrConnection
}

// clientError reports whether the device refused the request itself, in
// which case sending it again cannot help.
func (e *StatusError) clientError() bool {
	return e.Code >= 400 && e.Code < 500
}
