package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/espleds-core/internal/infrastructure/config"
)

// Logger receives handler failures and reconnect notices.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MessageHandler receives one inbound message. paho calls it on its own
// goroutine; a returned error is logged and the message is still acked.
type MessageHandler func(topic string, payload []byte) error

// route is a subscription kept for replay after a reconnect.
type route struct {
	qos     byte
	handler MessageHandler
}

// Client is the broker link used by the bridge. It owns the espleds/health
// status (online on every connect, offline on Close or via the will) and
// replays subscriptions after paho reconnects.
//
// All methods are safe for concurrent use.
type Client struct {
	paho     pahomqtt.Client
	clientID string
	qos      byte

	mu           sync.Mutex
	routes       map[string]route
	connected    bool
	closed       bool
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		clientID: cfg.Broker.ClientID,
		qos:      byte(cfg.QoS), // #nosec G115 -- validated 0..2 by config
		routes:   make(map[string]route),
		logger:   noopLogger{},
	}
}

// Connect dials the broker from the mqtt config section. The first attempt
// must succeed within connectTimeout or ErrConnectionFailed is returned.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := clientOptions(cfg).
		SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionDown(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			c.log().Warn("MQTT reconnecting", "broker", brokerURL(cfg))
		})

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: %s: no CONNACK after %v", ErrConnectionFailed, brokerURL(cfg), connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}

	// The OnConnect handler runs asynchronously; mark the link up now so
	// callers can publish straight away.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return c, nil
}

// connectionUp runs on the initial connect and on every reconnect.
func (c *Client) connectionUp() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.connected = true
	replay := make(map[string]route, len(c.routes))
	for topic, r := range c.routes {
		replay[topic] = r
	}
	callback := c.onConnect
	c.mu.Unlock()

	for topic, r := range replay {
		if err := wait(c.paho.Subscribe(topic, r.qos, c.dispatch(r.handler)), "resubscribe", topic); err != nil {
			c.log().Error("MQTT resubscribe failed", "topic", topic, "error", err)
		}
	}
	c.paho.Publish(Topics{}.Health(), c.qos, true, statusPayload(StatusOnline, c.clientID, "", time.Now()))

	if callback != nil {
		callback()
	}
}

func (c *Client) connectionDown(err error) {
	c.mu.Lock()
	c.connected = false
	callback := c.onDisconnect
	c.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

// Close publishes a retained graceful offline status and disconnects.
// Calling it again, or on a client that never connected, is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed || c.paho == nil {
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if wasConnected && c.paho.IsConnected() {
		payload := statusPayload(StatusOffline, c.clientID, reasonShutdown, time.Now())
		c.paho.Publish(Topics{}.Health(), c.qos, true, payload).WaitTimeout(ackTimeout)
	}
	c.paho.Disconnect(disconnectQuiesceMS)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known link state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.paho != nil && c.paho.IsConnected()
}

// SetOnConnect registers a callback for the initial connect and every
// reconnect. It runs after subscriptions have been replayed.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback for lost connections.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger replaces the default no-op logger. A nil logger restores it.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// dispatch adapts a MessageHandler to paho, logging returned errors and
// recovering panics so one bad command cannot take down paho's router.
func (c *Client) dispatch(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.deliver(handler, msg.Topic(), msg.Payload())
	}
}

func (c *Client) deliver(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("MQTT handler panic recovered", "topic", topic, "panic", r)
		}
	}()
	if err := handler(topic, payload); err != nil {
		c.log().Warn("MQTT handler returned error", "topic", topic, "error", err)
	}
}
