// Package bridge connects ESPLEDS Core to an MQTT broker.
//
// Outbound, it publishes retained documents under espleds/: the device
// list from the poller, per-device presence from the discovery registry,
// per-device settings from controllers, and periodic bridge health.
//
// Inbound, it subscribes to espleds/command/{address}/{parameter}. A
// payload is either the bare value ("128", "Desk Lamp") or a JSON object
// {"id": "...", "value": ...}. Commands go through the same coalescing
// controllers as API writes and are recorded with source "mqtt".
package bridge
