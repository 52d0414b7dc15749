package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/espleds-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	ackTimeout     = 5 * time.Second
	keepAlive      = 60 * time.Second

	// disconnectQuiesceMS lets in-flight publishes finish on Close.
	disconnectQuiesceMS = 500

	maxQoS = 2

	// maxPayloadSize bounds one message. The largest ESPLEDS payload is the
	// retained device list.
	maxPayloadSize = 256 << 10

	tlsMinVersion = tls.VersionTLS12
)

// Client status values on the health topic. The bridge publishes its own
// richer states on the same topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Reasons attached to offline status documents.
const (
	reasonShutdown   = "graceful_shutdown"
	reasonConnection = "unexpected_disconnect"
)

// StatusMessage is the client's own document on espleds/health.
type StatusMessage struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func statusPayload(status, clientID, reason string, at time.Time) []byte {
	// A struct of strings and a time cannot fail to marshal.
	b, _ := json.Marshal(StatusMessage{ //nolint:errcheck // see above
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: at.UTC().Truncate(time.Second),
	})
	return b
}

// brokerURL returns tcp:// or ssl:// depending on the TLS setting.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// clientOptions maps the mqtt config section onto paho options, including
// the retained offline will on espleds/health.
//
// The first connect fails fast so a bad broker stops start-up; drops after
// that are covered by auto-reconnect. Sessions are clean because retained
// topics carry all state, and subscriptions are restored by the Client.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetWill(Topics{}.Health(),
			string(statusPayload(StatusOffline, cfg.Broker.ClientID, reasonConnection, time.Now())),
			1, true)

	if cfg.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	}
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// wait blocks until the broker acknowledges token or ackTimeout passes.
func wait(token pahomqtt.Token, op, topic string) error {
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%s %s: %w after %v", op, topic, ErrTimeout, ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s %s: %w", op, topic, err)
	}
	return nil
}
