package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for bedlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	KeepAlive KeepAliveConfig `yaml:"keep_alive"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServiceConfig contains service identity settings.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BluetoothConfig contains BLE link settings shared by every bed session.
type BluetoothConfig struct {
	// Adapter is the local adapter identifier (e.g. "hci0").
	// Empty selects the platform default adapter.
	Adapter string `yaml:"adapter"`

	// ConnectTimeout is the per-attempt connection timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// CommandDelay is the minimum spacing between characteristic writes
	// to the same bed, in milliseconds. The OKIN controller drops frames
	// that arrive faster than it can process them.
	CommandDelay int `yaml:"command_delay"`

	// MovementInterval is the repeat period for press-and-hold movements,
	// in milliseconds.
	MovementInterval int `yaml:"movement_interval"`

	Scan ScanConfig `yaml:"scan"`
}

// ScanConfig contains BLE discovery settings.
type ScanConfig struct {
	// Timeout is the maximum scan duration in seconds.
	Timeout int `yaml:"timeout"`

	// NamePatterns are case-insensitive substrings matched against
	// advertised device names.
	NamePatterns []string `yaml:"name_patterns"`
}

// KeepAliveConfig contains session monitoring settings.
type KeepAliveConfig struct {
	// Interval is the monitor loop period in seconds.
	Interval int `yaml:"interval"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains automatic reconnection settings.
// Delays are in seconds; MaxAttempts of 0 means unlimited.
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the root of every topic the service publishes or
	// subscribes to. Default: "bedlink".
	TopicPrefix string `yaml:"topic_prefix"`
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
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// AccessKey is the pre-shared key exchanged for a JWT at the token
	// endpoint. Set via BEDLINK_ACCESS_KEY in production.
	AccessKey string `yaml:"access_key"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BEDLINK_SECTION_KEY
// For example: BEDLINK_DATABASE_PATH, BEDLINK_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "bedlink-001",
			Name: "bedlink",
		},
		Database: DatabaseConfig{
			Path:        "./data/bedlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Bluetooth: BluetoothConfig{
			ConnectTimeout:   30,
			CommandDelay:     100,
			MovementInterval: 500,
			Scan: ScanConfig{
				Timeout:      10,
				NamePatterns: []string{"OKIN", "Adjustable", "Comfort", "Luxe"},
			},
		},
		KeepAlive: KeepAliveConfig{
			Interval: 30,
			Reconnect: ReconnectConfig{
				InitialDelay: 5,
				MaxDelay:     120,
				MaxAttempts:  0,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "bedlink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "bedlink",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BEDLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("BEDLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Bluetooth
	if v := os.Getenv("BEDLINK_BLUETOOTH_ADAPTER"); v != "" {
		cfg.Bluetooth.Adapter = v
	}

	// MQTT
	if v := os.Getenv("BEDLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BEDLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BEDLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("BEDLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("BEDLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret and access key (always override in production)
	if v := os.Getenv("BEDLINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("BEDLINK_ACCESS_KEY"); v != "" {
		cfg.Security.AccessKey = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Bluetooth validation
	if c.Bluetooth.ConnectTimeout < 1 {
		errs = append(errs, "bluetooth.connect_timeout must be at least 1 second")
	}
	if c.Bluetooth.CommandDelay < 0 {
		errs = append(errs, "bluetooth.command_delay must not be negative")
	}
	if c.Bluetooth.MovementInterval < 100 {
		errs = append(errs, "bluetooth.movement_interval must be at least 100ms")
	}

	// Keep-alive validation
	if c.KeepAlive.Interval < 1 {
		errs = append(errs, "keep_alive.interval must be at least 1 second")
	}
	if c.KeepAlive.Reconnect.InitialDelay < 1 {
		errs = append(errs, "keep_alive.reconnect.initial_delay must be at least 1 second")
	}
	if c.KeepAlive.Reconnect.MaxDelay < c.KeepAlive.Reconnect.InitialDelay {
		errs = append(errs, "keep_alive.reconnect.max_delay must not be below initial_delay")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - JWT secret is REQUIRED
	// The API issues tokens that authorise moving physical furniture;
	// a forged token means unsupervised motor control.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set BEDLINK_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if c.Security.AccessKey == "" {
		errs = append(errs, "security.access_key is required (set BEDLINK_ACCESS_KEY environment variable)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetConnectTimeout returns the BLE connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Bluetooth.ConnectTimeout) * time.Second
}

// GetCommandDelay returns the inter-command spacing as a Duration.
func (c *Config) GetCommandDelay() time.Duration {
	return time.Duration(c.Bluetooth.CommandDelay) * time.Millisecond
}

// GetMovementInterval returns the movement repeat period as a Duration.
func (c *Config) GetMovementInterval() time.Duration {
	return time.Duration(c.Bluetooth.MovementInterval) * time.Millisecond
}

// GetScanTimeout returns the BLE scan timeout as a Duration.
func (c *Config) GetScanTimeout() time.Duration {
	return time.Duration(c.Bluetooth.Scan.Timeout) * time.Second
}

// GetKeepAliveInterval returns the keep-alive monitor period as a Duration.
func (c *Config) GetKeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAlive.Interval) * time.Second
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
