package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/espleds-core/internal/control"
	"github.com/nerrad567/espleds-core/internal/discovery"
)

// BridgeID identifies this bridge in health messages.
const BridgeID = "espleds"

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on espleds/health.
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	DevicesManaged int               `json:"devices_managed"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for degraded).
	Reason string `json:"reason,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	MessagesSent     uint64 `json:"messages_sent"`
}

// DeviceMessage is one entry of the retained espleds/devices list.
type DeviceMessage struct {
	Address  string    `json:"address"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceMessage is published retained on espleds/presence/{address}.
type PresenceMessage struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Online    bool      `json:"online"`
	LastSeen  time.Time `json:"last_seen"`
	Timestamp time.Time `json:"timestamp"`
}

// StateMessage is published retained on espleds/state/{address}.
type StateMessage struct {
	Address   string           `json:"address"`
	Settings  control.Settings `json:"settings"`
	Timestamp time.Time        `json:"timestamp"`
}

// CommandMessage is the JSON form of a command payload. A bare value
// (for example "128" or "Desk Lamp") is accepted as well.
type CommandMessage struct {
	// ID correlates log lines; generated when absent.
	ID    string          `json:"id,omitempty"`
	Value json.RawMessage `json:"value"`
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(version string, status HealthStatus, stats BridgeStatistics, deviceCount int, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:         BridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: deviceCount,
		Statistics:     &stats,
	}
}

func newDeviceMessages(devices []discovery.Device) []DeviceMessage {
	out := make([]DeviceMessage, len(devices))
	for i, d := range devices {
		out[i] = DeviceMessage{Address: d.Address, Name: d.Name, LastSeen: d.LastSeen.UTC()}
	}
	return out
}

// parseCommandPayload decodes a command for parameter p. JSON objects must
// carry a "value"; anything else is treated as the raw value. Numeric
// values are checked against the parameter's type but not its range;
// clamping happens in the controller.
func parseCommandPayload(p control.Parameter, payload []byte) (id string, v control.Value, err error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return "", control.Value{}, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}

	if trimmed[0] != '{' {
		v, err = control.ParseValue(p, string(trimmed))
		if err != nil {
			return "", control.Value{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return "", v, nil
	}

	var msg CommandMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return "", control.Value{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if len(msg.Value) == 0 {
		return "", control.Value{}, fmt.Errorf("%w: missing value", ErrInvalidPayload)
	}
	if err := json.Unmarshal(msg.Value, &v); err != nil {
		return "", control.Value{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if v.IsText() != !p.Numeric() {
		return "", control.Value{}, fmt.Errorf("%w: wrong value type for %s", ErrInvalidPayload, p)
	}
	return msg.ID, v, nil
}
