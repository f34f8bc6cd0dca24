// Package config holds the relay client configuration and its defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default values for every Config field. These are the only place defaults live.
const (
	DefaultSessionEndpoint      = "/api/sessions"
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 1000 * time.Millisecond
	DefaultConnectionTimeout    = 5000 * time.Millisecond
)

// Config is the single explicit configuration value passed to a relay client
// at construction time.
type Config struct {
	ServerURL       string // ws:// or wss:// URL of the relay
	SessionEndpoint string // HTTP path (or absolute URL) used to create sessions
	SessionID       string // Optional: join this session instead of creating one

	DisableReconnect     bool // zero value keeps auto-reconnect on
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	ConnectionTimeout    time.Duration
}

// AutoReconnect reports whether the client retries after a lost connection.
func (c Config) AutoReconnect() bool { return !c.DisableReconnect }

// Default returns a Config with every field at its default value.
func Default() Config {
	return Config{
		SessionEndpoint:      DefaultSessionEndpoint,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		ReconnectDelay:       DefaultReconnectDelay,
		ConnectionTimeout:    DefaultConnectionTimeout,
	}
}

// WithDefaults returns c with every zero-valued field replaced by its
// default, so Config{ServerURL: u} is a usable configuration. A zero
// ReconnectDelay or MaxReconnectAttempts also falls back to the default;
// set DisableReconnect to turn retries off.
func (c Config) WithDefaults() Config {
	if c.SessionEndpoint == "" {
		c.SessionEndpoint = DefaultSessionEndpoint
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	return c
}

// Validate reports the first problem found in cfg.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server url is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid server url: %q", c.ServerURL)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server url must use ws or wss, got %q", u.Scheme)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must be >= 0, got %d", c.MaxReconnectAttempts)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("reconnect delay must be >= 0, got %s", c.ReconnectDelay)
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be > 0, got %s", c.ConnectionTimeout)
	}
	return nil
}

// fileConfig mirrors Config in TOML form. Pointer fields distinguish
// "absent" from the zero value so the file only overrides what it names.
type fileConfig struct {
	ServerURL            *string   `toml:"server_url"`
	SessionEndpoint      *string   `toml:"session_endpoint"`
	SessionID            *string   `toml:"session_id"`
	AutoReconnect        *bool     `toml:"auto_reconnect"`
	MaxReconnectAttempts *int      `toml:"max_reconnect_attempts"`
	ReconnectDelay       *duration `toml:"reconnect_delay"`
	ConnectionTimeout    *duration `toml:"connection_timeout"`
}

// duration decodes TOML strings such as "1s" or "250ms".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// Load reads a TOML file and overlays it on Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML bytes and overlays them on Default().
func Parse(data []byte) (Config, error) {
	var fc fileConfig
	if _, err := toml.Decode(string(data), &fc); err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}

	cfg := Default()
	if fc.ServerURL != nil {
		cfg.ServerURL = *fc.ServerURL
	}
	if fc.SessionEndpoint != nil {
		cfg.SessionEndpoint = *fc.SessionEndpoint
	}
	if fc.SessionID != nil {
		cfg.SessionID = *fc.SessionID
	}
	if fc.AutoReconnect != nil {
		cfg.DisableReconnect = !*fc.AutoReconnect
	}
	if fc.MaxReconnectAttempts != nil {
		cfg.MaxReconnectAttempts = *fc.MaxReconnectAttempts
	}
	if fc.ReconnectDelay != nil {
		cfg.ReconnectDelay = time.Duration(*fc.ReconnectDelay)
	}
	if fc.ConnectionTimeout != nil {
		cfg.ConnectionTimeout = time.Duration(*fc.ConnectionTimeout)
	}
	return cfg, nil
}
