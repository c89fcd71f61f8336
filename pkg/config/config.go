// Package config loads client configuration from a YAML file. Credentials may
// also come from the environment so files checked into deploy repos never
// carry secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default endpoints for the Advanced Trade API.
const (
	DefaultWebSocketURL = "wss://advanced-trade-ws.coinbase.com"
	DefaultRESTBaseURL  = "https://api.coinbase.com"
)

// Environment variable fallbacks for credentials.
const (
	EnvAPIKey    = "COINBASE_API_KEY"
	EnvAPISecret = "COINBASE_API_SECRET"
)

// Config holds everything needed to construct a client.
type Config struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	WebSocketURL string `yaml:"websocket_url"`
	RESTBaseURL  string `yaml:"rest_base_url"`

	// LivenessWindow bounds how long the connection may go silent before it
	// is considered dead.
	LivenessWindow time.Duration `yaml:"liveness_window"`
	PingInterval   time.Duration `yaml:"ping_interval"`

	Reconnect ReconnectConfig `yaml:"reconnect"`

	LogLevel string `yaml:"log_level"`
}

// ReconnectConfig tunes the backoff between reconnection attempts.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts uint          `yaml:"max_attempts"`
}

// Load reads and validates a YAML config file. Credentials missing from the
// file are taken from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv(EnvAPIKey)
	}
	if c.APISecret == "" {
		c.APISecret = os.Getenv(EnvAPISecret)
	}
	if c.WebSocketURL == "" {
		c.WebSocketURL = DefaultWebSocketURL
	}
	if c.RESTBaseURL == "" {
		c.RESTBaseURL = DefaultRESTBaseURL
	}
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = c.LivenessWindow / 3
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks internal consistency. Credentials are not required here;
// they are only needed once an authenticated channel is subscribed, and the
// signer enforces that.
func (c *Config) Validate() error {
	if c.WebSocketURL == "" {
		return fmt.Errorf("websocket_url cannot be empty")
	}
	if c.RESTBaseURL == "" {
		return fmt.Errorf("rest_base_url cannot be empty")
	}
	if (c.APIKey == "") != (c.APISecret == "") {
		return fmt.Errorf("api_key and api_secret must be provided together")
	}
	if c.PingInterval >= c.LivenessWindow {
		return fmt.Errorf("ping_interval %s must be shorter than liveness_window %s",
			c.PingInterval, c.LivenessWindow)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// HasCredentials reports whether API credentials are configured.
func (c *Config) HasCredentials() bool {
	return c.APIKey != "" && c.APISecret != ""
}
