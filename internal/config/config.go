// Package config provides configuration types for sessiond.
//
// Configuration is file-based (sessiond.yaml) with environment variable
// overrides. Everything has a working default; a bare `sessiond run
// --account <id>` uses the in-memory store and needs no file at all.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level configuration for sessiond.
type Config struct {
	// Server configures the operational HTTP listener (health, metrics).
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Store selects and configures the session store backend.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Session configures admission and heartbeat behavior.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Reaper configures the stale-session sweeper.
	Reaper ReaperConfig `yaml:"reaper" mapstructure:"reaper"`

	// State configures the local client-state file.
	State StateConfig `yaml:"state" mapstructure:"state"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the operational HTTP server.
type ServerConfig struct {
	// OpsAddr is the address the health/metrics listener binds to
	// (e.g., "127.0.0.1:9090"). Empty disables the listener.
	OpsAddr string `yaml:"ops_addr" mapstructure:"ops_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	// Backend is the store implementation to use.
	// Valid values: "memory", "redis", "sqlite". Defaults to "memory".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory redis sqlite"`

	// Redis configures the Redis backend. Only used when Backend is "redis".
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	// SQLite configures the SQLite backend. Only used when Backend is "sqlite".
	SQLite SQLiteConfig `yaml:"sqlite" mapstructure:"sqlite"`
}

// RedisConfig configures the Redis store backend.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379").
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`

	// Password authenticates against the server. Empty for no auth.
	Password string `yaml:"password" mapstructure:"password"`

	// DB is the logical database number.
	DB int `yaml:"db" mapstructure:"db" validate:"omitempty,min=0,max=15"`
}

// SQLiteConfig configures the SQLite store backend.
type SQLiteConfig struct {
	// Path is the database file location.
	// Defaults to "~/.sessiond/sessions.db".
	Path string `yaml:"path" mapstructure:"path"`

	// PollInterval is how often watch subscriptions re-read their row
	// (e.g., "2s"). Bounds eviction-detection latency on this backend.
	PollInterval string `yaml:"poll_interval" mapstructure:"poll_interval" validate:"omitempty,duration"`
}

// SessionConfig configures admission control and the heartbeat.
type SessionConfig struct {
	// MaxPerAccount is the concurrent session cap per account.
	// Defaults to 3.
	MaxPerAccount int `yaml:"max_per_account" mapstructure:"max_per_account" validate:"omitempty,min=1"`

	// HeartbeatInterval is how often the active session refreshes its
	// last-activity timestamp (e.g., "60s"). Defaults to "60s".
	HeartbeatInterval string `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval" validate:"omitempty,duration"`

	// OpTimeout bounds individual store operations (e.g., "5s").
	// Defaults to "5s".
	OpTimeout string `yaml:"op_timeout" mapstructure:"op_timeout" validate:"omitempty,duration"`

	// ClientInfo is a free-form description of this client recorded in
	// the session (platform, version). Defaults to "sessiond/<version> <os>".
	ClientInfo string `yaml:"client_info" mapstructure:"client_info"`
}

// ReaperConfig configures the stale-session sweeper.
type ReaperConfig struct {
	// StaleAfter is the idle age beyond which a session is reaped
	// (e.g., "24h"). Defaults to "24h".
	StaleAfter string `yaml:"stale_after" mapstructure:"stale_after" validate:"omitempty,duration"`

	// Interval is how often the resident reaper sweeps (e.g., "1h").
	// Defaults to "1h". Only used by `sessiond reap --watch`.
	Interval string `yaml:"interval" mapstructure:"interval" validate:"omitempty,duration"`
}

// StateConfig configures the local client-state file.
type StateConfig struct {
	// Path is the state file location.
	// Defaults to "~/.sessiond/state.json".
	Path string `yaml:"path" mapstructure:"path"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only; network exposure must be explicit.
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "localhost:6379"
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = defaultHomePath("sessions.db")
	}
	if c.Store.SQLite.PollInterval == "" {
		c.Store.SQLite.PollInterval = "2s"
	}

	if c.Session.MaxPerAccount == 0 {
		c.Session.MaxPerAccount = 3
	}
	if c.Session.HeartbeatInterval == "" {
		c.Session.HeartbeatInterval = "60s"
	}
	if c.Session.OpTimeout == "" {
		c.Session.OpTimeout = "5s"
	}

	if c.Reaper.StaleAfter == "" {
		c.Reaper.StaleAfter = "24h"
	}
	if c.Reaper.Interval == "" {
		c.Reaper.Interval = "1h"
	}

	if c.State.Path == "" {
		c.State.Path = defaultHomePath("state.json")
	}
}

// SetDevDefaults applies development-mode overrides.
// Applied after SetDefaults and before validation.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	// Short intervals so eviction and reaping are observable interactively.
	c.Session.HeartbeatInterval = "5s"
	c.Reaper.Interval = "1m"
}

// Duration accessors. Validation guarantees the strings parse, so a
// failure here means Validate was skipped; fall back to the default.

// HeartbeatIntervalDuration returns the parsed heartbeat interval.
func (c *Config) HeartbeatIntervalDuration() time.Duration {
	return parseDuration(c.Session.HeartbeatInterval, 60*time.Second)
}

// OpTimeoutDuration returns the parsed store operation timeout.
func (c *Config) OpTimeoutDuration() time.Duration {
	return parseDuration(c.Session.OpTimeout, 5*time.Second)
}

// StaleAfterDuration returns the parsed reaper staleness threshold.
func (c *Config) StaleAfterDuration() time.Duration {
	return parseDuration(c.Reaper.StaleAfter, 24*time.Hour)
}

// ReapIntervalDuration returns the parsed resident-reaper sweep interval.
func (c *Config) ReapIntervalDuration() time.Duration {
	return parseDuration(c.Reaper.Interval, time.Hour)
}

// SQLitePollDuration returns the parsed SQLite watch poll interval.
func (c *Config) SQLitePollDuration() time.Duration {
	return parseDuration(c.Store.SQLite.PollInterval, 2*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func defaultHomePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".sessiond", name)
}
