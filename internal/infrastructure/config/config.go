package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Bellcore.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Labs     LabsConfig     `yaml:"labs"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// LabsConfig describes the registered labs and presence behaviour.
type LabsConfig struct {
	// IDs is the comma-separated list of registered lab identifiers.
	// Entries are normalised (uppercased, trimmed) at startup; invalid
	// entries are dropped with a warning.
	IDs string `yaml:"ids"`

	// OnlineThresholdMs is how recently a heartbeat must have arrived
	// for a lab to be considered automatically online.
	OnlineThresholdMs int `yaml:"online_threshold_ms"`

	// OverridesPath is the JSON file holding manual status overrides.
	OverridesPath string `yaml:"overrides_path"`
}

// DatabaseConfig contains SQLite database settings for the ring audit trail.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// TrustedProxy is the address of a reverse proxy in front of the
	// listener. When a request arrives from this address the client
	// address is taken from X-Forwarded-For instead of RemoteAddr.
	// Empty means no proxy: forwarded headers are ignored.
	TrustedProxy string `yaml:"trusted_proxy"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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

// InfluxDBConfig contains optional telemetry settings.
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

// SecurityConfig contains the admin gate and abuse guard settings.
type SecurityConfig struct {
	// AdminSecret gates every override mutation and override listing.
	// Set BELLCORE_ADMIN_SECRET in production.
	AdminSecret string `yaml:"admin_secret"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cooldown  CooldownConfig  `yaml:"cooldown"`
}

// RateLimitConfig tunes the per-client fixed-window rate limiter.
type RateLimitConfig struct {
	WindowMs int `yaml:"window_ms"`
	Max      int `yaml:"max"`
}

// CooldownConfig tunes the per-lab ring cooldown.
type CooldownConfig struct {
	Ms int `yaml:"ms"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BELLCORE_SECTION_KEY
// For example: BELLCORE_MQTT_HOST, BELLCORE_ADMIN_SECRET
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

// LoadOrDefault behaves like Load but falls back to defaults plus
// environment overrides when no config file exists at path. This keeps
// container deployments workable with environment variables alone.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := defaultConfig()
		applyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// Reference behaviour constants. Devices heartbeat every 10 s, so the
// default threshold tolerates two missed heartbeats plus slack.
const (
	defaultOnlineThresholdMs = 25000
	defaultRateWindowMs      = 10000
	defaultRateMax           = 8
	defaultCooldownMs        = 3000
)

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Labs: LabsConfig{
			IDs:               "LAPADA",
			OnlineThresholdMs: defaultOnlineThresholdMs,
			OverridesPath:     "./data/overrides.json",
		},
		Database: DatabaseConfig{
			Path:        "./data/bellcore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "bellcore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				WindowMs: defaultRateWindowMs,
				Max:      defaultRateMax,
			},
			Cooldown: CooldownConfig{
				Ms: defaultCooldownMs,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BELLCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Labs
	if v := os.Getenv("BELLCORE_LABS"); v != "" {
		cfg.Labs.IDs = v
	}
	if v := os.Getenv("BELLCORE_ONLINE_THRESHOLD_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Labs.OnlineThresholdMs = n
		}
	}
	if v := os.Getenv("BELLCORE_OVERRIDES_PATH"); v != "" {
		cfg.Labs.OverridesPath = v
	}

	// Database
	if v := os.Getenv("BELLCORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("BELLCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BELLCORE_MQTT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MQTT.Broker.Port = n
		}
	}
	if v := os.Getenv("BELLCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BELLCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("BELLCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("BELLCORE_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.API.Port = n
		}
	}

	// InfluxDB
	if v := os.Getenv("BELLCORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - admin secret (IMPORTANT: always override in production)
	if v := os.Getenv("BELLCORE_ADMIN_SECRET"); v != "" {
		cfg.Security.AdminSecret = v
	}
}

// minAdminSecretLength guards against trivially guessable admin secrets.
// The admin gate controls visibility of physical hardware, so a weak
// secret would let anyone silence or spoof a lab's availability.
const minAdminSecretLength = 8

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Labs.IDs) == "" {
		errs = append(errs, "labs.ids is required")
	}
	if c.Labs.OnlineThresholdMs <= 0 {
		errs = append(errs, "labs.online_threshold_ms must be positive")
	}
	if c.Labs.OverridesPath == "" {
		errs = append(errs, "labs.overrides_path is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Security.AdminSecret == "" {
		errs = append(errs, "security.admin_secret is required (set BELLCORE_ADMIN_SECRET environment variable)")
	} else if len(c.Security.AdminSecret) < minAdminSecretLength {
		errs = append(errs, "security.admin_secret must be at least 8 characters")
	}

	if c.Security.RateLimit.WindowMs <= 0 {
		errs = append(errs, "security.rate_limit.window_ms must be positive")
	}
	if c.Security.RateLimit.Max <= 0 {
		errs = append(errs, "security.rate_limit.max must be positive")
	}
	if c.Security.Cooldown.Ms < 0 {
		errs = append(errs, "security.cooldown.ms must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// OnlineThreshold returns the presence threshold as a Duration.
func (c *Config) OnlineThreshold() time.Duration {
	return time.Duration(c.Labs.OnlineThresholdMs) * time.Millisecond
}

// RateWindow returns the rate limiter window as a Duration.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.Security.RateLimit.WindowMs) * time.Millisecond
}

// CooldownDuration returns the per-lab ring cooldown as a Duration.
func (c *Config) CooldownDuration() time.Duration {
	return time.Duration(c.Security.Cooldown.Ms) * time.Millisecond
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
