package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for ESPLEDS Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Discovery DiscoveryConfig `yaml:"discovery"`
	Control   ControlConfig   `yaml:"control"`
	Poller    PollerConfig    `yaml:"poller"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DiscoveryConfig contains UDP beacon listener settings.
type DiscoveryConfig struct {
	// ListenAddress is the local IP to bind. Default: "0.0.0.0"
	ListenAddress string `yaml:"listen_address"`

	// Port is the UDP port devices beacon to. Default: 12888
	Port int `yaml:"port"`

	// BufferSize is the receive buffer size per datagram. Minimum 512.
	BufferSize int `yaml:"buffer_size"`

	// StaleAfter is how long a device may stay silent before eviction.
	// Default: 30s
	StaleAfter time.Duration `yaml:"stale_after"`

	// EvictInterval is how often the eviction sweep runs. Default: 2s
	EvictInterval time.Duration `yaml:"evict_interval"`
}

// ControlConfig contains HTTP device control channel settings.
type ControlConfig struct {
	// Timeout bounds every HTTP call to a device. Default: 1s
	Timeout time.Duration `yaml:"timeout"`

	// PutAttempts is the total number of attempts for a PUT that fails
	// with a connection error. Default: 3
	PutAttempts int `yaml:"put_attempts"`

	// RetryInitialDelay is the first backoff delay. Default: 100ms
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`

	// RetryMaxDelay caps the backoff delay. Default: 1s
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
}

// PollerConfig contains settings for the snapshot publishing loop.
type PollerConfig struct {
	// Interval between registry snapshots. Default: 1s
	Interval time.Duration `yaml:"interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetention is how long parameter history is kept. 0 keeps forever.
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ESPLEDS_SECTION_KEY
// For example: ESPLEDS_DISCOVERY_PORT, ESPLEDS_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults (plus
// environment overrides) when the file does not exist. The CLI uses it so
// one-shot commands work without a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		applyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			ListenAddress: "0.0.0.0",
			Port:          12888,
			BufferSize:    512,
			StaleAfter:    30 * time.Second,
			EvictInterval: 2 * time.Second,
		},
		Control: ControlConfig{
			Timeout:           time.Second,
			PutAttempts:       3,
			RetryInitialDelay: 100 * time.Millisecond,
			RetryMaxDelay:     time.Second,
		},
		Poller: PollerConfig{
			Interval: time.Second,
		},
		Database: DatabaseConfig{
			Enabled:          true,
			Path:             "./data/espleds.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 7 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "espleds-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "espleds",
			Bucket:        "espleds",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ESPLEDS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Discovery
	if v, ok := envInt("ESPLEDS_DISCOVERY_PORT"); ok {
		cfg.Discovery.Port = v
	}

	// Control
	if v, ok := envDuration("ESPLEDS_CONTROL_TIMEOUT"); ok {
		cfg.Control.Timeout = v
	}

	// Database
	if v := os.Getenv("ESPLEDS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("ESPLEDS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ESPLEDS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ESPLEDS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("ESPLEDS_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v, ok := envInt("ESPLEDS_API_PORT"); ok {
		cfg.API.Port = v
	}

	// InfluxDB
	if v := os.Getenv("ESPLEDS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("ESPLEDS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// envInt reads an integer environment variable. Unparsable values are ignored.
func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// envDuration reads a Go duration environment variable (e.g. "1500ms").
func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

// minBufferSize is the smallest datagram buffer the beacon listener accepts.
const minBufferSize = 512

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Discovery validation
	if c.Discovery.Port < 1 || c.Discovery.Port > 65535 {
		errs = append(errs, "discovery.port must be between 1 and 65535")
	}
	if c.Discovery.BufferSize < minBufferSize {
		errs = append(errs, fmt.Sprintf("discovery.buffer_size must be at least %d", minBufferSize))
	}
	if c.Discovery.StaleAfter <= 0 {
		errs = append(errs, "discovery.stale_after must be positive")
	}
	if c.Discovery.EvictInterval <= 0 {
		errs = append(errs, "discovery.evict_interval must be positive")
	}

	// Control validation - a missing timeout would let a hung device block forever
	if c.Control.Timeout <= 0 {
		errs = append(errs, "control.timeout must be positive")
	}
	if c.Control.PutAttempts < 1 {
		errs = append(errs, "control.put_attempts must be at least 1")
	}
	if c.Control.RetryInitialDelay < 0 || c.Control.RetryMaxDelay < c.Control.RetryInitialDelay {
		errs = append(errs, "control.retry_max_delay must be >= control.retry_initial_delay >= 0")
	}

	// Poller validation
	if c.Poller.Interval <= 0 {
		errs = append(errs, "poller.interval must be positive")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
