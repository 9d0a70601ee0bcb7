package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the shadow agent.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Loop      LoopConfig      `yaml:"loop"`
	Alert     AlertConfig     `yaml:"alert"`
	Geocoder  GeocoderConfig  `yaml:"geocoder"`
	GPSBridge GPSBridgeConfig `yaml:"gps_bridge"`
	Query     QueryConfig     `yaml:"query"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// DeviceConfig identifies the device and the shadow keys it reacts to.
type DeviceConfig struct {
	// ThingName is the shadow thing name used to build shadow topics.
	ThingName string `yaml:"thing_name"`

	// ActuatorKey is the key under state.desired that carries the ON/OFF command.
	ActuatorKey string `yaml:"actuator_key"`

	// SpeedScale converts reported speed into the unit kept in device state.
	// Default: 1.0 (no conversion)
	SpeedScale float64 `yaml:"speed_scale"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Topics    MQTTTopicsConfig    `yaml:"topics"`

	// MaxDocumentBytes caps a single reassembly buffer. A stream that grows
	// past it is discarded.
	MaxDocumentBytes int `yaml:"max_document_bytes"`
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
}

// MQTTTopicsConfig overrides individual topics. Empty values fall back to
// the builders in the mqtt package.
type MQTTTopicsConfig struct {
	ShadowAccepted string `yaml:"shadow_accepted"`
	ShadowUpdate   string `yaml:"shadow_update"`
	Alerts         string `yaml:"alerts"`
	Telemetry      string `yaml:"telemetry"`
	Position       string `yaml:"position"`
	Actuator       string `yaml:"actuator"`
	Status         string `yaml:"status"`
}

// LoopConfig controls the single-threaded control loop.
type LoopConfig struct {
	// TickInterval is the control-loop period in milliseconds.
	TickInterval int `yaml:"tick_interval_ms"`

	// InboxSize is the buffer size of the inbound fragment channel.
	InboxSize int `yaml:"inbox_size"`
}

// AlertConfig configures the alert actuator.
type AlertConfig struct {
	// HazardSignature is the alert message that fires the actuator.
	HazardSignature string `yaml:"hazard_signature"`

	// Duration is how long the output stays asserted, in milliseconds.
	Duration int `yaml:"duration_ms"`

	Signal AlertSignalConfig `yaml:"signal"`
}

// AlertSignalConfig selects the physical output driver.
type AlertSignalConfig struct {
	// Type is one of "log", "gpio" or "mqtt".
	Type string `yaml:"type"`

	// GPIOPath is the sysfs value file written for type "gpio"
	// (e.g. /sys/class/gpio/gpio23/value).
	GPIOPath string `yaml:"gpio_path"`
}

// GeocoderConfig configures reverse geocoding.
type GeocoderConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`

	// Timeout in milliseconds. 0 means the request is never cut short.
	Timeout int `yaml:"timeout_ms"`

	// Async moves resolution off the control loop.
	Async bool `yaml:"async"`
}

// GPSBridgeConfig configures an optional position helper process whose
// stdout lines are fed to the agent as position fixes.
type GPSBridgeConfig struct {
	Enabled bool     `yaml:"enabled"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// RestartDelay is the first restart backoff in seconds; it doubles up to
	// MaxRestartDelay.
	RestartDelay    int `yaml:"restart_delay"`
	MaxRestartDelay int `yaml:"max_restart_delay"`

	// MaxRestarts limits consecutive restarts. 0 means unlimited.
	MaxRestarts int `yaml:"max_restarts"`

	// StaleTimeout in seconds before a silent helper counts as stale.
	StaleTimeout int `yaml:"stale_timeout"`
}

// QueryConfig configures the read-only query surface.
type QueryConfig struct {
	// PumpBeforeSnapshot processes pending inbound fragments before a query
	// is answered.
	PumpBeforeSnapshot bool `yaml:"pump_before_snapshot"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
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

// DatabaseConfig contains SQLite settings for the event journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays prunes journal rows older than this on startup. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
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
}

// JWTConfig contains JWT token settings. An empty secret leaves the API open.
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
// Environment variables follow the pattern: SHADOWAGENT_SECTION_KEY
// For example: SHADOWAGENT_MQTT_HOST, SHADOWAGENT_GEOCODER_API_KEY
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ThingName:   "ESP32_BIKEASSIST",
			ActuatorKey: "led",
			SpeedScale:  1.0,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "shadow-agent",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			MaxDocumentBytes: 64 << 10,
		},
		Loop: LoopConfig{
			TickInterval: 1000,
			InboxSize:    64,
		},
		Alert: AlertConfig{
			HazardSignature: "주의: 이 지역은 사고 위험이 높은 구간입니다!",
			Duration:        3000,
			Signal: AlertSignalConfig{
				Type: "log",
			},
		},
		Geocoder: GeocoderConfig{
			Enabled: true,
			URL:     "https://maps.googleapis.com/maps/api/geocode/json",
		},
		GPSBridge: GPSBridgeConfig{
			RestartDelay:    2,
			MaxRestartDelay: 60,
			StaleTimeout:    30,
		},
		Query: QueryConfig{
			PumpBeforeSnapshot: true,
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
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/shadow-agent.db",
			WALMode:     true,
			BusyTimeout: 5,
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
// Environment variables follow the pattern: SHADOWAGENT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("SHADOWAGENT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SHADOWAGENT_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SHADOWAGENT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SHADOWAGENT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Geocoder - API key should never live in the config file
	if v := os.Getenv("SHADOWAGENT_GEOCODER_API_KEY"); v != "" {
		cfg.Geocoder.APIKey = v
	}

	// Database
	if v := os.Getenv("SHADOWAGENT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("SHADOWAGENT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("SHADOWAGENT_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ThingName == "" {
		errs = append(errs, "device.thing_name is required")
	}
	if c.Device.ActuatorKey == "" {
		errs = append(errs, "device.actuator_key is required")
	}
	if c.Device.SpeedScale <= 0 {
		errs = append(errs, "device.speed_scale must be positive")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.MaxDocumentBytes <= 0 {
		errs = append(errs, "mqtt.max_document_bytes must be positive")
	}

	if c.Loop.TickInterval <= 0 {
		errs = append(errs, "loop.tick_interval_ms must be positive")
	}
	if c.Loop.InboxSize < 0 {
		errs = append(errs, "loop.inbox_size cannot be negative")
	}

	if c.Alert.HazardSignature == "" {
		errs = append(errs, "alert.hazard_signature is required")
	}
	if c.Alert.Duration <= 0 {
		errs = append(errs, "alert.duration_ms must be positive")
	}
	switch strings.ToLower(c.Alert.Signal.Type) {
	case "log", "mqtt":
	case "gpio":
		if c.Alert.Signal.GPIOPath == "" {
			errs = append(errs, "alert.signal.gpio_path is required for gpio signals")
		}
	default:
		errs = append(errs, "alert.signal.type must be log, gpio, or mqtt")
	}

	if c.Geocoder.Enabled && c.Geocoder.URL == "" {
		errs = append(errs, "geocoder.url is required when geocoder is enabled")
	}
	if c.Geocoder.Timeout < 0 {
		errs = append(errs, "geocoder.timeout_ms cannot be negative")
	}

	if c.GPSBridge.Enabled && c.GPSBridge.Command == "" {
		errs = append(errs, "gps_bridge.command is required when gps_bridge is enabled")
	}
	if c.GPSBridge.RestartDelay < 0 || c.GPSBridge.MaxRestartDelay < 0 || c.GPSBridge.MaxRestarts < 0 {
		errs = append(errs, "gps_bridge restart settings cannot be negative")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// A short secret is worse than none: it looks protected but is brute-forceable.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetGPSBridgeRestartDelay returns the first restart backoff as a Duration.
func (c *Config) GetGPSBridgeRestartDelay() time.Duration {
	return time.Duration(c.GPSBridge.RestartDelay) * time.Second
}

// GetGPSBridgeMaxRestartDelay returns the backoff ceiling as a Duration.
func (c *Config) GetGPSBridgeMaxRestartDelay() time.Duration {
	return time.Duration(c.GPSBridge.MaxRestartDelay) * time.Second
}

// GetGPSBridgeStaleTimeout returns the stale watchdog period. A non-positive
// setting disables the watchdog.
func (c *Config) GetGPSBridgeStaleTimeout() time.Duration {
	if c.GPSBridge.StaleTimeout <= 0 {
		return -1
	}
	return time.Duration(c.GPSBridge.StaleTimeout) * time.Second
}

// GetTickInterval returns the control-loop period as a Duration.
func (c *Config) GetTickInterval() time.Duration {
	return time.Duration(c.Loop.TickInterval) * time.Millisecond
}

// GetAlertDuration returns the alert window length as a Duration.
func (c *Config) GetAlertDuration() time.Duration {
	return time.Duration(c.Alert.Duration) * time.Millisecond
}

// GetGeocoderTimeout returns the geocoder request timeout. Zero means none.
func (c *Config) GetGeocoderTimeout() time.Duration {
	return time.Duration(c.Geocoder.Timeout) * time.Millisecond
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
