package discovery

import "errors"

// Domain errors for the discovery package.
var (
	// ErrMalformedBeacon is returned for a datagram that is not a valid
	// ESPLEDS beacon. Such datagrams never change the registry.
	ErrMalformedBeacon = errors.New("discovery: malformed beacon")

	// ErrAlreadyStarted is returned by Start on a running or stopped registry.
	ErrAlreadyStarted = errors.New("discovery: already started")

	// ErrPayloadTooLong is returned when encoding a beacon whose payload
	// does not fit the single length byte.
	ErrPayloadTooLong = errors.New("discovery: beacon payload exceeds 255 bytes")
)
