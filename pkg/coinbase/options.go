package coinbase

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/veiloq/coinbase-connector/pkg/config"
	"github.com/veiloq/coinbase-connector/pkg/websocket"
)

// Options configures a Client. Start from NewOptions and override as needed.
type Options struct {
	// APIKey authenticates the client. Every control frame on the streaming
	// feed is signed, so credentials are always required.
	APIKey string

	// APISecret is the secret paired with the API key.
	APISecret string

	// WebSocketURL is the streaming endpoint.
	WebSocketURL string

	// RESTBaseURL is the REST endpoint used by ServerTime and Product.
	RESTBaseURL string

	// HTTPTimeout bounds each REST request.
	HTTPTimeout time.Duration

	// LivenessWindow is the longest the connection may go without a frame
	// or pong before it is considered dead.
	LivenessWindow time.Duration

	// PingInterval is the client ping cadence. Must be shorter than
	// LivenessWindow.
	PingInterval time.Duration

	// Backoff paces reconnection attempts.
	Backoff websocket.BackoffPolicy

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string

	// Clock is injected for tests; defaults to the wall clock.
	Clock clock.Clock
}

// NewOptions returns defaults for the production endpoints.
func NewOptions() *Options {
	return &Options{
		WebSocketURL:   config.DefaultWebSocketURL,
		RESTBaseURL:    config.DefaultRESTBaseURL,
		HTTPTimeout:    15 * time.Second,
		LivenessWindow: 30 * time.Second,
		PingInterval:   10 * time.Second,
		Backoff:        websocket.DefaultBackoff(),
		LogLevel:       "info",
	}
}

// OptionsFromConfig maps a loaded config file onto Options.
func OptionsFromConfig(cfg *config.Config) *Options {
	opts := NewOptions()
	opts.APIKey = cfg.APIKey
	opts.APISecret = cfg.APISecret
	opts.WebSocketURL = cfg.WebSocketURL
	opts.RESTBaseURL = cfg.RESTBaseURL
	opts.LivenessWindow = cfg.LivenessWindow
	opts.PingInterval = cfg.PingInterval
	opts.LogLevel = cfg.LogLevel
	if cfg.Reconnect.BaseDelay > 0 {
		opts.Backoff.BaseDelay = cfg.Reconnect.BaseDelay
	}
	if cfg.Reconnect.MaxDelay > 0 {
		opts.Backoff.MaxDelay = cfg.Reconnect.MaxDelay
	}
	if cfg.Reconnect.MaxAttempts > 0 {
		opts.Backoff.MaxAttempts = cfg.Reconnect.MaxAttempts
	}
	return opts
}
