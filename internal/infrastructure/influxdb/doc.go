// Package influxdb records device telemetry in InfluxDB v2: one point per
// parameter write, presence changes from discovery, and the registry size.
//
// Writes never block callers. Points are batched by the client library and
// failed batches are reported through SetOnError. After Close every write
// is dropped.
package influxdb
