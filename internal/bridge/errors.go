package bridge

import "errors"

// Sentinel errors for bridge operations.
var (
	// ErrInvalidTopic is returned for a command on a malformed topic.
	ErrInvalidTopic = errors.New("bridge: invalid command topic")

	// ErrInvalidPayload is returned when a command payload cannot be decoded.
	ErrInvalidPayload = errors.New("bridge: invalid command payload")

	// ErrUnknownDevice is returned for commands to an address the registry
	// does not hold.
	ErrUnknownDevice = errors.New("bridge: unknown device")
)
