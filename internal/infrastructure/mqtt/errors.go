package mqtt

import "errors"

// Sentinel errors for broker operations. Broker-side failures are wrapped
// with the topic, so callers match them with errors.Is.
var (
	// ErrNotConnected is returned while the broker link is down. The bridge
	// treats it as transient: retained topics are republished on the next
	// change.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed is returned when the first connect at start-up
	// fails. Later drops are handled by auto-reconnect instead.
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	// ErrTimeout is returned when the broker does not acknowledge in time.
	ErrTimeout = errors.New("mqtt: broker did not acknowledge in time")

	// ErrInvalidTopic is returned for an empty topic, a topic outside the
	// espleds/ tree, or a publish topic containing a wildcard.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrInvalidQoS is returned for a QoS other than 0, 1 or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	// ErrPayloadTooLarge is returned for payloads above maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrNilHandler is returned when subscribing without a handler.
	ErrNilHandler = errors.New("mqtt: nil message handler")
)
