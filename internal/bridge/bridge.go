package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/espleds-core/internal/control"
	"github.com/nerrad567/espleds-core/internal/controller"
	"github.com/nerrad567/espleds-core/internal/discovery"
	"github.com/nerrad567/espleds-core/internal/history"
	"github.com/nerrad567/espleds-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/espleds-core/internal/poller"
)

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client satisfies it; tests use a mock.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Sender delivers a parameter write to a device. *controller.Manager
// satisfies it.
type Sender interface {
	Send(address, source string, p control.Parameter, v control.Value) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(address, source string, p control.Parameter, v control.Value) error

// Send calls f.
func (f SenderFunc) Send(address, source string, p control.Parameter, v control.Value) error {
	return f(address, source, p, v)
}

// DeviceLookup reports whether an address is currently registered.
// *discovery.Registry satisfies it.
type DeviceLookup interface {
	Get(address string) (discovery.Device, bool)
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options holds configuration for creating a bridge.
type Options struct {
	// MQTTClient is required.
	MQTTClient MQTTClient

	// Sender receives commands. Required.
	Sender Sender

	// Devices, when set, restricts commands to registered addresses.
	Devices DeviceLookup

	// QoS for state publications. Default 1.
	QoS byte

	// HealthInterval defaults to DefaultHealthInterval.
	HealthInterval time.Duration

	// Version is reported in health messages.
	Version string

	Logger Logger
}

// Bridge mirrors the device registry and controller state onto MQTT and
// turns MQTT commands into controller writes.
//
// It is a poller.Subscriber (device list), a discovery.Observer (presence)
// and a controller.Listener (settings).
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt    MQTTClient
	sender  Sender
	devices DeviceLookup
	qos     byte
	health  *HealthReporter
	stats   *stats
	logger  Logger
	now     func() time.Time

	mu      sync.Mutex
	started bool

	stopOnce sync.Once
}

var (
	_ poller.Subscriber   = (*Bridge)(nil)
	_ discovery.Observer  = (*Bridge)(nil)
	_ controller.Listener = (*Bridge)(nil)
)

// New creates a bridge. Call Start to subscribe and begin health reporting.
func New(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}

	qos := opts.QoS
	if qos == 0 {
		qos = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	s := &stats{}
	b := &Bridge{
		mqtt:    opts.MQTTClient,
		sender:  opts.Sender,
		devices: opts.Devices,
		qos:     qos,
		stats:   s,
		logger:  logger,
		now:     time.Now,
		health:  newHealthReporter(opts.Version, opts.HealthInterval, opts.MQTTClient, s),
	}
	b.health.logger = logger
	return b, nil
}

// Start publishes "starting", subscribes to command topics and begins
// health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	if err := b.health.PublishStarting(); err != nil {
		b.logger.Error("failed to publish starting status", "error", err)
	}

	topic := mqtt.Topics{}.AllCommands()
	if err := b.mqtt.Subscribe(topic, 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", topic)

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logger.Error("failed to publish healthy status", "error", err)
	}

	b.started = true
	b.logger.Info("mqtt bridge started")
	return nil
}

// Stop unsubscribes and publishes a final "stopping" health status.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		started := b.started
		b.mu.Unlock()

		if started {
			if err := b.mqtt.Unsubscribe(mqtt.Topics{}.AllCommands()); err != nil {
				b.logger.Debug("unsubscribe on stop failed", "error", err)
			}
		}
		b.health.Stop()
		b.logger.Info("mqtt bridge stopped")
	})
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() BridgeStatistics {
	return b.stats.snapshot()
}

// DevicesUpdated publishes the device list retained on espleds/devices.
func (b *Bridge) DevicesUpdated(devices []discovery.Device) {
	b.health.SetDeviceCount(len(devices))
	b.publishJSON(mqtt.Topics{}.Devices(), newDeviceMessages(devices))
}

// DeviceDiscovered publishes the device as online.
func (b *Bridge) DeviceDiscovered(d discovery.Device) {
	b.publishPresence(d, true)
}

// DeviceLost publishes the device as offline.
func (b *Bridge) DeviceLost(d discovery.Device) {
	b.publishPresence(d, false)
}

// SettingsChanged publishes a device's intended settings.
func (b *Bridge) SettingsChanged(address string, s control.Settings) {
	b.publishJSON(mqtt.Topics{}.State(address), StateMessage{
		Address:   address,
		Settings:  s,
		Timestamp: b.now().UTC(),
	})
}

func (b *Bridge) publishPresence(d discovery.Device, online bool) {
	b.publishJSON(mqtt.Topics{}.Presence(d.Address), PresenceMessage{
		Address:   d.Address,
		Name:      d.Name,
		Online:    online,
		LastSeen:  d.LastSeen.UTC(),
		Timestamp: b.now().UTC(),
	})
}

// publishJSON publishes v retained. Failures are logged; state topics are
// republished on the next change.
func (b *Bridge) publishJSON(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to marshal mqtt message", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
		b.logger.Warn("failed to publish mqtt message", "topic", topic, "error", err)
		return
	}
	b.stats.messagesSent.Add(1)
}

// handleCommand processes espleds/command/{address}/{parameter}.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	b.stats.commandsReceived.Add(1)

	if err := b.executeCommand(topic, payload); err != nil {
		b.stats.commandsFailed.Add(1)
		return err
	}
	return nil
}

func (b *Bridge) executeCommand(topic string, payload []byte) error {
	address, name, ok := mqtt.Topics{}.ParseCommand(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	p, err := control.ParseParameter(name)
	if err != nil {
		return err
	}
	if b.devices != nil {
		if _, known := b.devices.Get(address); !known {
			return fmt.Errorf("%w: %s", ErrUnknownDevice, address)
		}
	}

	id, v, err := parseCommandPayload(p, payload)
	if err != nil {
		return err
	}
	if id == "" {
		id = uuid.NewString()
	}

	b.logger.Info("received command",
		"command_id", id,
		"address", address,
		"parameter", string(p),
		"value", v.String(),
	)
	if err := b.sender.Send(address, history.SourceMQTT, p, v); err != nil {
		return fmt.Errorf("command %s: %w", id, err)
	}
	return nil
}
