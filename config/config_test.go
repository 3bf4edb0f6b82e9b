package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Target
	}{
		{
			name: "defaults",
			in:   "redis://",
			want: Target{Scheme: "redis", Network: "tcp", Addr: "127.0.0.1:6379", Host: "127.0.0.1", Port: 6379},
		},
		{
			name: "empty path is db 0",
			in:   "redis://localhost:6380",
			want: Target{Scheme: "redis", Network: "tcp", Addr: "localhost:6380", Host: "localhost", Port: 6380},
		},
		{
			name: "password and db",
			in:   "redis://:secret@example.com:6381/9",
			want: Target{Scheme: "redis", Network: "tcp", Addr: "example.com:6381", Host: "example.com", Port: 6381, Password: "secret", DB: 9},
		},
		{
			name: "tls",
			in:   "rediss://cache.internal/2",
			want: Target{Scheme: "rediss", Network: "tcp", Addr: "cache.internal:6379", Host: "cache.internal", Port: 6379, TLS: true, DB: 2},
		},
		{
			name: "unix socket",
			in:   "unix:///var/run/redis.sock",
			want: Target{Scheme: "unix", Network: "unix", Addr: "/var/run/redis.sock", Host: "/var/run/redis.sock"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseURLErrors(t *testing.T) {
	for _, in := range []string{
		"http://localhost",
		"redis://localhost:notaport",
		"redis://localhost/abc",
		"unix://",
	} {
		_, err := ParseURL(in)
		assert.ErrorIs(t, err, ErrInvalidURL, in)
	}
}

func TestTargetStringRedactsPassword(t *testing.T) {
	target, err := ParseURL("redis://:hunter2@localhost:6379/3")
	require.NoError(t, err)
	assert.Equal(t, "redis://:xxxxx@localhost:6379/3", target.String())
	assert.NotContains(t, target.String(), "hunter2")

	again, err := ParseURL(target.URL())
	require.NoError(t, err)
	assert.Equal(t, target, again)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://10.0.0.1:7000/1")
	t.Setenv("REDIS_INACTIVITY_TRIGGER_SECONDS", "5")
	t.Setenv("REDIS_RECONNECT_BACKOFF_SECONDS", "1.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis://10.0.0.1:7000/1", cfg.URL)
	assert.Equal(t, 5, cfg.InactivityTriggerSeconds)
	assert.Equal(t, 2, cfg.InactivityResponseTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.ReconnectBackoff())
	assert.Equal(t, 4, cfg.MaxReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
}

func TestSetupConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "em-hiredis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
url: redis://:pw@127.0.0.1:6390/4
inactivity_trigger_seconds: 3
max_reconnect_attempts: 6
connect_timeout: 250ms
logging:
  level: debug
`), 0o644))

	cfg, err := SetupConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.InactivityTriggerSeconds)
	assert.Equal(t, 2, cfg.InactivityResponseTimeout)
	assert.Equal(t, 6, cfg.MaxReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.ConnectTimeout)
	assert.Equal(t, 0.5, cfg.ReconnectBackoffSeconds)
	require.NotNil(t, cfg.Logging)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.MaxReconnectAttempts = 0
	cfg.InactivityTriggerSeconds = 2
	cfg.InactivityResponseTimeout = 0
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "max_reconnect_attempts")
	assert.Contains(t, err.Error(), "inactivity_response_timeout")
}
