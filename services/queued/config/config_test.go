package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queued.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "listen: \":9000\"\n"))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, "config.toml", cfg.NodeConfig)
	require.Equal(t, 2*time.Minute, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, 20, cfg.RateLimits.Write.Burst)
	require.Equal(t, 64, cfg.Server.EventBuffer)
}

func TestLoadParsesDurationsAndAuth(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
auth:
  enabled: true
  hmac_secret: topsecret
  issuer: queue-tests
  clock_skew: 30s
server:
  shutdown_timeout: 1m
log:
  level: debug
  file: /tmp/queued.log
`))
	require.NoError(t, err)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, 30*time.Second, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, time.Minute, cfg.Server.ShutdownTimeout.Duration)
	require.Equal(t, "/tmp/queued.log", cfg.Log.File)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"auth without secret":   "auth:\n  enabled: true\n",
		"telemetry no endpoint": "telemetry:\n  traces: true\n",
		"bad duration":          "auth:\n  clock_skew: soon\n",
		"unknown field":         "listen_addr: \":1\"\n",
		"negative rate":         "rate_limits:\n  read:\n    requests_per_minute: -1\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, contents))
			require.Error(t, err)
		})
	}
}
