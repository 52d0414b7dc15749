package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when telemetry is switched off.
	ErrDisabled = errors.New("influxdb: telemetry disabled in config")

	// ErrConnectionFailed is returned when the server does not answer the
	// start-up ping. Telemetry is optional, so serve only fails if it was
	// enabled.
	ErrConnectionFailed = errors.New("influxdb: telemetry server unreachable")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: telemetry client closed")

	// ErrUnhealthy is returned when the server answers the ping but reports
	// itself not ready.
	ErrUnhealthy = errors.New("influxdb: telemetry server unhealthy")
)
