// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface is the read surface components receive. It allows mocking in
// tests and keeps callers away from viper.
type Interface interface {
	Logger() LoggerConfig
	Keystore() KeystoreConfig
	Session() SessionConfig
	Router() RouterConfig
	Network() NetworkConfig

	// Setters for the few values CLI flags may override after load.
	SetSessionURL(string)
	SetKeystoreDir(string)
	SetRouterDefaultWait(time.Duration)
}

// Config is the root configuration. Fields are populated by viper from
// defaults, an optional YAML file, and QUILL_* environment variables.
type Config struct {
	LoggerC   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	KeystoreC KeystoreConfig `mapstructure:"keystore" yaml:"keystore"`
	SessionC  SessionConfig  `mapstructure:"session" yaml:"session"`
	RouterC   RouterConfig   `mapstructure:"router" yaml:"router"`
	NetworkC  NetworkConfig  `mapstructure:"network" yaml:"network"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig     { return c.LoggerC }
func (c *Config) Keystore() KeystoreConfig { return c.KeystoreC }
func (c *Config) Session() SessionConfig   { return c.SessionC }
func (c *Config) Router() RouterConfig     { return c.RouterC }
func (c *Config) Network() NetworkConfig   { return c.NetworkC }

func (c *Config) SetSessionURL(u string)               { c.SessionC.URL = u }
func (c *Config) SetKeystoreDir(d string)              { c.KeystoreC.Dir = d }
func (c *Config) SetRouterDefaultWait(d time.Duration) { c.RouterC.DefaultWait = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines console colors per log level.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// KeystoreConfig locates persistent identity state.
type KeystoreConfig struct {
	// Dir is the state directory. Empty means ~/.quill, resolved at wiring
	// time so config stays free of host lookups.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// BackoffConfig tunes the reconnect schedule.
type BackoffConfig struct {
	Base        time.Duration `mapstructure:"base" yaml:"base"`
	Max         time.Duration `mapstructure:"max" yaml:"max"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	// Jitter is the fraction of each delay drawn uniformly at random,
	// 0 (none) to 1 (full).
	Jitter float64 `mapstructure:"jitter" yaml:"jitter"`
}

// RateLimitConfig throttles outbound command frames.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	Rate    float64 `mapstructure:"rate" yaml:"rate"`
	Burst   int     `mapstructure:"burst" yaml:"burst"`
}

// SessionConfig tunes the persistent connection.
type SessionConfig struct {
	URL              string          `mapstructure:"url" yaml:"url"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	WriteWait        time.Duration   `mapstructure:"write_wait" yaml:"write_wait"`
	PongWait         time.Duration   `mapstructure:"pong_wait" yaml:"pong_wait"`
	PingInterval     time.Duration   `mapstructure:"ping_interval" yaml:"ping_interval"`
	SendHello        bool            `mapstructure:"send_hello" yaml:"send_hello"`
	Backoff          BackoffConfig   `mapstructure:"backoff" yaml:"backoff"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RouterConfig tunes command dispatch.
type RouterConfig struct {
	// DefaultWait bounds how long Execute blocks for a session command to
	// resolve when the caller does not specify a timeout.
	DefaultWait time.Duration `mapstructure:"default_wait" yaml:"default_wait"`
	// ManifestPath optionally points at a local YAML command manifest.
	ManifestPath string `mapstructure:"manifest_path" yaml:"manifest_path"`
	// DiscoveryURL optionally names an HTTP endpoint serving the manifest.
	DiscoveryURL string `mapstructure:"discovery_url" yaml:"discovery_url"`
}

// NetworkConfig tunes the stateless HTTP client.
type NetworkConfig struct {
	Timeout         time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	ProxyURL        string            `mapstructure:"proxy_url" yaml:"proxy_url"`
	IgnoreTLSErrors bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Headers         map[string]string `mapstructure:"headers" yaml:"headers"`
}

// NewDefaultConfig returns a Config populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults always unmarshal; anything else is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "quill")
	// No log file by default: a client invoked from scripts should not
	// scatter log files across working directories.
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Keystore --
	v.SetDefault("keystore.dir", "")

	// -- Session --
	v.SetDefault("session.url", "")
	v.SetDefault("session.handshake_timeout", "10s")
	v.SetDefault("session.write_wait", "10s")
	v.SetDefault("session.pong_wait", "60s")
	v.SetDefault("session.ping_interval", "54s")
	v.SetDefault("session.send_hello", true)
	v.SetDefault("session.backoff.base", "1s")
	v.SetDefault("session.backoff.max", "30s")
	v.SetDefault("session.backoff.max_attempts", 5)
	v.SetDefault("session.backoff.jitter", 0.5)
	v.SetDefault("session.rate_limit.enabled", false)
	v.SetDefault("session.rate_limit.rate", 10.0)
	v.SetDefault("session.rate_limit.burst", 20)

	// -- Router --
	v.SetDefault("router.default_wait", "5s")
	v.SetDefault("router.manifest_path", "")
	v.SetDefault("router.discovery_url", "")

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.proxy_url", "")
	v.SetDefault("network.ignore_tls_errors", false)
}

// NewConfigFromViper builds and validates a Config from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Explicit bindings for values routinely supplied via environment.
	v.BindEnv("session.url", "QUILL_SESSION_URL")
	v.BindEnv("keystore.dir", "QUILL_KEYSTORE_DIR")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks for values no component can run with. The session URL is
// deliberately not required here: identity-only invocations never connect.
func (c *Config) Validate() error {
	if err := c.SessionC.Validate(); err != nil {
		return err
	}
	if c.RouterC.DefaultWait <= 0 {
		return fmt.Errorf("router.default_wait must be a positive duration")
	}
	if c.NetworkC.Timeout <= 0 {
		return fmt.Errorf("network.timeout must be a positive duration")
	}
	return nil
}

// Validate checks session timing and retry parameters.
func (s *SessionConfig) Validate() error {
	if s.HandshakeTimeout <= 0 {
		return fmt.Errorf("session.handshake_timeout must be a positive duration")
	}
	if s.WriteWait <= 0 {
		return fmt.Errorf("session.write_wait must be a positive duration")
	}
	if s.PongWait <= 0 || s.PingInterval <= 0 {
		return fmt.Errorf("session keepalive intervals must be positive durations")
	}
	if s.PingInterval >= s.PongWait {
		return fmt.Errorf("session.ping_interval must be below session.pong_wait")
	}
	if s.Backoff.Base <= 0 {
		return fmt.Errorf("session.backoff.base must be a positive duration")
	}
	if s.Backoff.Max < s.Backoff.Base {
		return fmt.Errorf("session.backoff.max must be at least the base delay")
	}
	if s.Backoff.MaxAttempts < 0 {
		return fmt.Errorf("session.backoff.max_attempts cannot be negative")
	}
	if s.Backoff.Jitter < 0 || s.Backoff.Jitter > 1 {
		return fmt.Errorf("session.backoff.jitter must be within [0, 1]")
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.Rate <= 0 {
			return fmt.Errorf("session.rate_limit.rate must be positive when enabled")
		}
		if s.RateLimit.Burst <= 0 {
			return fmt.Errorf("session.rate_limit.burst must be positive when enabled")
		}
	}
	return nil
}
