package main

import (
	"time"

	"github.com/nerrad567/espleds-core/internal/discovery"
	"github.com/nerrad567/espleds-core/internal/poller"
)

// presenceWriter records registry changes as time-series points.
// *influxdb.Client implements it.
type presenceWriter interface {
	WritePresence(address, name string, online bool, at time.Time)
	WriteDeviceCount(count int, at time.Time)
}

// presenceTelemetry forwards discovery events and registry snapshots to a
// presenceWriter.
type presenceTelemetry struct {
	writer presenceWriter
	now    func() time.Time
}

var (
	_ discovery.Observer = presenceTelemetry{}
	_ poller.Subscriber  = presenceTelemetry{}
)

func (p presenceTelemetry) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// DeviceDiscovered records the device coming online.
func (p presenceTelemetry) DeviceDiscovered(d discovery.Device) {
	p.writer.WritePresence(d.Address, d.Name, true, p.clock())
}

// DeviceLost records the device being evicted.
func (p presenceTelemetry) DeviceLost(d discovery.Device) {
	p.writer.WritePresence(d.Address, d.Name, false, p.clock())
}

// DevicesUpdated records the registry size.
func (p presenceTelemetry) DevicesUpdated(devices []discovery.Device) {
	p.writer.WriteDeviceCount(len(devices), p.clock())
}
