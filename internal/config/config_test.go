package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENTUR_CLIENT_NAME", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 1500, cfg.Upstream.MaxSize)
	assert.Equal(t, 15*time.Second, cfg.Cache.RefreshInterval)
	assert.Equal(t, 60*time.Second, cfg.Cache.RateLimitWindow)
	assert.Equal(t, 4, cfg.Cache.RateLimitMax)
	assert.Equal(t, 1000.0, cfg.Cache.NearbyRadiusM)
	assert.Equal(t, 15*time.Second, cfg.Stream.Interval)
	assert.Equal(t, 2*time.Second, cfg.Stream.Heartbeat)
	assert.False(t, cfg.Redis.Enabled)

	_, err = cfg.ClientName()
	assert.ErrorIs(t, err, ErrMissingClientName)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ENTUR_CLIENT_NAME", "team-busrace")
	t.Setenv("RATE_LIMIT_MAX", "10")
	t.Setenv("REFRESH_INTERVAL", "5s")
	t.Setenv("REDIS_ENABLED", "yes")
	t.Setenv("NEARBY_RADIUS_M", "750")

	cfg, err := Load()
	require.NoError(t, err)

	name, err := cfg.ClientName()
	require.NoError(t, err)
	assert.Equal(t, "team-busrace", name)
	assert.Equal(t, 10, cfg.Cache.RateLimitMax)
	assert.Equal(t, 5*time.Second, cfg.Cache.RefreshInterval)
	assert.Equal(t, 750.0, cfg.Cache.NearbyRadiusM)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
server:
  port: "9090"
cache:
  rateLimitMax: 8
  refreshInterval: 30s
stream:
  interval: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("STREAM_INTERVAL", "20s")
	t.Setenv("STREAM_HEARTBEAT", "500ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 8, cfg.Cache.RateLimitMax)
	assert.Equal(t, 30*time.Second, cfg.Cache.RefreshInterval)
	// environment wins over the file
	assert.Equal(t, 20*time.Second, cfg.Stream.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.Heartbeat)
	// untouched keys keep defaults
	assert.Equal(t, 60*time.Second, cfg.Cache.RateLimitWindow)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad duration", "REFRESH_INTERVAL", "soon"},
		{"bad int", "RATE_LIMIT_MAX", "four"},
		{"zero quota", "RATE_LIMIT_MAX", "0"},
		{"unknown stops source", "STOPS_SOURCE", "s3"},
		{"bad radius", "NEARBY_RADIUS_M", "far"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
