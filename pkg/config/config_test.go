package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
api_key: key
api_secret: secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultWebSocketURL, cfg.WebSocketURL)
	assert.Equal(t, DefaultRESTBaseURL, cfg.RESTBaseURL)
	assert.Equal(t, 30*time.Second, cfg.LivenessWindow)
	assert.Equal(t, 10*time.Second, cfg.PingInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.HasCredentials())
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
websocket_url: ws://localhost:9000
rest_base_url: http://localhost:9001
liveness_window: 10s
ping_interval: 2s
log_level: debug
reconnect:
  base_delay: 100ms
  max_delay: 5s
  max_attempts: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:9000", cfg.WebSocketURL)
	assert.Equal(t, 10*time.Second, cfg.LivenessWindow)
	assert.Equal(t, 2*time.Second, cfg.PingInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Reconnect.BaseDelay)
	assert.Equal(t, uint(3), cfg.Reconnect.MaxAttempts)
	assert.False(t, cfg.HasCredentials())
}

func TestLoadCredentialsFromEnvironment(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvAPISecret, "env-secret")

	cfg, err := Load(writeConfig(t, `log_level: warn`))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, "env-secret", cfg.APISecret)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"half credentials", "api_key: key"},
		{"ping not shorter than liveness", "liveness_window: 5s\nping_interval: 5s"},
		{"unknown log level", "log_level: verbose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "api_key: [unclosed"))
	assert.Error(t, err)
}
