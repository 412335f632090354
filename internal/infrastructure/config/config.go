package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for relayd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	XBee     XBeeConfig     `yaml:"xbee"`
	Security SecurityConfig `yaml:"security"`
	Relays   []RelayConfig  `yaml:"relays"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays is how long status history is kept.
	// Zero keeps it forever. Default: 90
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
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

// XBeeConfig contains settings for the local XBee radio and the relay board
// it talks to.
type XBeeConfig struct {
	// Connection is the URL of the serial link to the local radio.
	// Supported schemes: tcp:// (serial-to-network adapter) and unix://.
	Connection string `yaml:"connection"`

	// APIMode is the radio's AP setting: 1 (unescaped) or 2 (escaped).
	APIMode int `yaml:"api_mode"`

	// RemoteAddress is the 64-bit address of the relay board, as 16 hex
	// digits. Separators (space, colon, dash) are ignored.
	RemoteAddress string `yaml:"remote_address"`

	// SendTimeout bounds the wait for a transmit status (seconds). Default: 10
	SendTimeout int `yaml:"send_timeout"`

	// ConnectTimeout bounds the initial dial (seconds). Default: 10
	ConnectTimeout int `yaml:"connect_timeout"`

	// ReconnectInterval is the initial backoff after a lost link (seconds). Default: 5
	ReconnectInterval int `yaml:"reconnect_interval"`

	// MaxPayload is the largest RF payload the radio accepts. Default: 72
	MaxPayload int `yaml:"max_payload"`

	// BatchCommands sends multi-relay commands as one payload.
	// When false, relays are switched one at a time. Default: true
	BatchCommands bool `yaml:"batch_commands"`

	// Bridge optionally runs the serial-to-network daemon behind Connection.
	Bridge SerialBridgeConfig `yaml:"bridge"`
}

// SerialBridgeConfig contains settings for a managed serial bridge daemon
// such as ser2net.
type SerialBridgeConfig struct {
	Managed            bool     `yaml:"managed"`
	Binary             string   `yaml:"binary"`
	Args               []string `yaml:"args"`
	RestartDelay       int      `yaml:"restart_delay"` // seconds
	MaxRestartAttempts int      `yaml:"max_restart_attempts"`
	ReadyTimeout       int      `yaml:"ready_timeout"` // seconds
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// RelayConfig seeds a relay definition at startup.
type RelayConfig struct {
	Number  int    `yaml:"number"`
	Pin     int    `yaml:"pin"`
	Channel string `yaml:"channel"`
	Label   string `yaml:"label"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RELAYD_SECTION_KEY
// For example: RELAYD_DATABASE_PATH, RELAYD_XBEE_CONNECTION
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Relay Board",
		},
		Database: DatabaseConfig{
			Path:                 "./data/relayd.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 90,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "relayd",
			},
			QoS:         1,
			TopicPrefix: "relay",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		XBee: XBeeConfig{
			Connection:        "tcp://localhost:2000",
			APIMode:           2,
			SendTimeout:       10,
			ConnectTimeout:    10,
			ReconnectInterval: 5,
			MaxPayload:        72,
			BatchCommands:     true,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
				Burst:             20,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("RELAYD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("RELAYD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RELAYD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RELAYD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("RELAYD_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("RELAYD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// XBee
	if v := os.Getenv("RELAYD_XBEE_CONNECTION"); v != "" {
		cfg.XBee.Connection = v
	}
	if v := os.Getenv("RELAYD_XBEE_REMOTE_ADDRESS"); v != "" {
		cfg.XBee.RemoteAddress = v
	}
}

// Validate checks the configuration for errors.
// All problems are reported together rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Database.HistoryRetentionDays < 0 {
		errs = append(errs, "database.history_retention_days must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	errs = append(errs, c.XBee.validate()...)
	errs = append(errs, validateRelays(c.Relays)...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (x XBeeConfig) validate() []string {
	var errs []string
	if x.Connection == "" {
		errs = append(errs, "xbee.connection is required")
	}
	if x.APIMode != 1 && x.APIMode != 2 {
		errs = append(errs, "xbee.api_mode must be 1 or 2")
	}
	if x.RemoteAddress == "" {
		errs = append(errs, "xbee.remote_address is required (set RELAYD_XBEE_REMOTE_ADDRESS environment variable)")
	}
	if x.SendTimeout <= 0 {
		errs = append(errs, "xbee.send_timeout must be positive")
	}
	if x.MaxPayload <= 0 {
		errs = append(errs, "xbee.max_payload must be positive")
	}
	if x.Bridge.Managed {
		if x.Bridge.Binary == "" {
			errs = append(errs, "xbee.bridge.binary is required when the bridge is managed")
		}
		if x.Bridge.RestartDelay < 0 || x.Bridge.ReadyTimeout < 0 || x.Bridge.MaxRestartAttempts < 0 {
			errs = append(errs, "xbee.bridge timings and attempts must not be negative")
		}
	}
	return errs
}

func validateRelays(relays []RelayConfig) []string {
	var errs []string
	seen := make(map[int]bool, len(relays))
	for i, r := range relays {
		if seen[r.Number] {
			errs = append(errs, fmt.Sprintf("relays[%d]: duplicate number %d", i, r.Number))
		}
		seen[r.Number] = true
		if r.Channel == "" {
			errs = append(errs, fmt.Sprintf("relays[%d]: channel is required", i))
		}
	}
	return errs
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

// GetHistoryRetention returns the status history retention as a Duration.
// Zero means history is never pruned.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Database.HistoryRetentionDays) * 24 * time.Hour
}

// GetSendTimeout returns the XBee transmit status timeout as a Duration.
func (c *Config) GetSendTimeout() time.Duration {
	return time.Duration(c.XBee.SendTimeout) * time.Second
}

// GetConnectTimeout returns the XBee dial timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.XBee.ConnectTimeout) * time.Second
}

// GetReconnectInterval returns the initial XBee reconnect backoff as a Duration.
func (c *Config) GetReconnectInterval() time.Duration {
	return time.Duration(c.XBee.ReconnectInterval) * time.Second
}
