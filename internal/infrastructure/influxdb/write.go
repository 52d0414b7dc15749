package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementParameterWrite = "parameter_write"
	MeasurementPresence       = "device_presence"
	MeasurementDeviceCount    = "device_count"
)

// WriteParameter records one device parameter write. value is the accepted
// value, or the requested one when ok is false: int for numeric parameters,
// string for the name. latency includes retries.
func (c *Client) WriteParameter(address, parameter string, value any, ok bool, latency time.Duration, at time.Time) {
	c.write(parameterPoint(address, parameter, value, ok, latency, at))
}

// WritePresence records a device appearing or being evicted.
func (c *Client) WritePresence(address, name string, online bool, at time.Time) {
	c.write(presencePoint(address, name, online, at))
}

// WriteDeviceCount records how many devices the registry holds.
func (c *Client) WriteDeviceCount(count int, at time.Time) {
	c.write(write.NewPoint(MeasurementDeviceCount, nil, map[string]interface{}{"count": count}, at))
}

func parameterPoint(address, parameter string, value any, ok bool, latency time.Duration, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"ok":         ok,
		"latency_ms": float64(latency) / float64(time.Millisecond),
	}
	// Text and numbers go to separate fields so each keeps a single type.
	switch v := value.(type) {
	case string:
		fields["text"] = v
	default:
		fields["value"] = v
	}
	return write.NewPoint(
		MeasurementParameterWrite,
		map[string]string{
			"address":   address,
			"parameter": parameter,
		},
		fields,
		at,
	)
}

func presencePoint(address, name string, online bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPresence,
		map[string]string{"address": address},
		map[string]interface{}{
			"online": online,
			"name":   name,
		},
		at,
	)
}
