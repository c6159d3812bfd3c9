package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Backends that can be served.
const (
	BackendPush = "push"
	BackendPoll = "poll"
	BackendBoth = "both"
)

// Key store drivers for the poll backend.
const (
	DriverRedis  = "redis"
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	Backend           string        `mapstructure:"backend" yaml:"backend"`

	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	CORS     CORSConfig     `mapstructure:"cors" yaml:"cors"`
	Push     PushConfig     `mapstructure:"push" yaml:"push"`
	Presence PresenceConfig `mapstructure:"presence" yaml:"presence"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins" yaml:"allow_origins"`
}

// PushConfig tunes the WebSocket transport.
type PushConfig struct {
	Outbox          int           `mapstructure:"outbox" yaml:"outbox"`
	PingInterval    time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	// RateLimit caps inbound frames per connection per minute. Zero disables it.
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// PresenceConfig tunes the heartbeat/TTL backend.
type PresenceConfig struct {
	TTL               time.Duration `mapstructure:"ttl" yaml:"ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	KeyPrefix         string        `mapstructure:"key_prefix" yaml:"key_prefix"`
}

type StoreConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	RedisURL        string        `mapstructure:"redis_url" yaml:"redis_url"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff" yaml:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff" yaml:"max_retry_backoff"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	SQLitePath      string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PurgeInterval   time.Duration `mapstructure:"purge_interval" yaml:"purge_interval"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		Backend:           BackendBoth,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
		},
		Push: PushConfig{
			Outbox:          32,
			PingInterval:    30 * time.Second,
			MaxMessageBytes: 4096,
			RateLimit:       120,
		},
		Presence: PresenceConfig{
			TTL:               30 * time.Second,
			HeartbeatInterval: 15 * time.Second,
			RequestTimeout:    2 * time.Second,
			KeyPrefix:         "viewing",
		},
		Store: StoreConfig{
			Driver:          DriverMemory,
			RedisURL:        "redis://localhost:6379/0",
			MaxRetries:      3,
			MinRetryBackoff: 8 * time.Millisecond,
			MaxRetryBackoff: 512 * time.Millisecond,
			DialTimeout:     2 * time.Second,
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			SQLitePath:      "viewing.db",
			PurgeInterval:   time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "viewing",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the fields exposed as command-line flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.Backend != "" {
		c.Backend = other.Backend
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
	if other.Store.Driver != "" {
		c.Store.Driver = other.Store.Driver
	}
	if other.Store.RedisURL != "" {
		c.Store.RedisURL = other.Store.RedisURL
	}
	if other.Store.SQLitePath != "" {
		c.Store.SQLitePath = other.Store.SQLitePath
	}
}

// ServesPush reports whether the WebSocket backend is enabled.
func (c Config) ServesPush() bool {
	return c.Backend == BackendPush || c.Backend == BackendBoth
}

// ServesPoll reports whether the heartbeat API is enabled.
func (c Config) ServesPoll() bool {
	return c.Backend == BackendPoll || c.Backend == BackendBoth
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	switch c.Backend {
	case BackendPush, BackendPoll, BackendBoth:
	default:
		errs = append(errs, fmt.Errorf("backend %q must be one of push, poll, both", c.Backend))
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	for _, origin := range c.CORS.AllowOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			errs = append(errs, fmt.Errorf("cors.allow_origins entry %q must be * or start with http:// or https://", origin))
		}
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}

	if c.ServesPush() {
		if c.Push.Outbox <= 0 {
			errs = append(errs, errors.New("push.outbox must be positive"))
		}
		if c.Push.MaxMessageBytes <= 0 {
			errs = append(errs, errors.New("push.max_message_bytes must be positive"))
		}
		if c.Push.RateLimit < 0 {
			errs = append(errs, errors.New("push.rate_limit must not be negative"))
		}
	}

	if c.ServesPoll() {
		p := c.Presence
		if p.TTL <= 0 {
			errs = append(errs, errors.New("presence.ttl must be positive"))
		}
		if p.HeartbeatInterval <= 0 {
			errs = append(errs, errors.New("presence.heartbeat_interval must be positive"))
		}
		// One missed heartbeat must not make a viewer disappear.
		if p.TTL > 0 && p.HeartbeatInterval*2 > p.TTL {
			errs = append(errs, fmt.Errorf("presence.heartbeat_interval %s must be at most half of presence.ttl %s", p.HeartbeatInterval, p.TTL))
		}
		if p.RequestTimeout <= 0 {
			errs = append(errs, errors.New("presence.request_timeout must be positive"))
		}

		switch c.Store.Driver {
		case DriverRedis:
			if c.Store.RedisURL == "" {
				errs = append(errs, errors.New("store.redis_url is required for the redis driver"))
			}
		case DriverSQLite:
			if c.Store.SQLitePath == "" {
				errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
			}
		case DriverMemory:
		default:
			errs = append(errs, fmt.Errorf("store.driver %q must be one of redis, memory, sqlite", c.Store.Driver))
		}
	}

	return errors.Join(errs...)
}
