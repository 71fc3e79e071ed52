package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starbridge/observatoryd/internal/errs"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8600, cfg.Port)
	assert.Equal(t, 10, cfg.Gateway.MaxConnections)
	assert.Equal(t, 30*time.Second, cfg.Gateway.CallTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Devices.PollInterval)
	assert.False(t, cfg.DeviceHub.Enabled)
	assert.Equal(t, 8624, cfg.DeviceHub.ListenPort)
	assert.Equal(t, "observatory", cfg.Telemetry.TopicPrefix)
	assert.Equal(t, "offline", cfg.Solver.Mode)
	assert.Equal(t, "solve-field", cfg.Solver.Binary)
	assert.Empty(t, cfg.Auth.Secret)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "observatoryd.yaml")
	doc := `
host: 192.168.1.20
port: 9000
debug: true
gateway:
  maxConnections: 2
auth:
  secret: hunter2
  users:
    - name: astronomer
      hash: "$2a$10$abcdefghijklmnopqrstuv"
devicehub:
  enabled: true
  listenPort: 9624
solver:
  mode: online
  apiKey: astrometry-key
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.20", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 2, cfg.Gateway.MaxConnections)
	assert.Equal(t, "hunter2", cfg.Auth.Secret)
	require.Len(t, cfg.Auth.Users, 1)
	assert.Equal(t, "astronomer", cfg.Auth.Users[0].Name)
	assert.True(t, cfg.DeviceHub.Enabled)
	assert.Equal(t, 9624, cfg.DeviceHub.ListenPort)
	assert.Equal(t, "online", cfg.Solver.Mode)
	assert.Equal(t, "astrometry-key", cfg.Solver.APIKey)

	// Unset values keep their defaults.
	assert.Equal(t, 64, cfg.Gateway.QueueLimit)
	assert.Equal(t, "solve-field", cfg.Solver.Binary)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errs.IsKind(err, errs.PersistenceError))
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("OBSERVATORYD_PORT", "7777")
	t.Setenv("OBSERVATORYD_SOLVER_MODE", "online")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Port)
	assert.Equal(t, "online", cfg.Solver.Mode)
}
