package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8787", cfg.Server.Listen)
	assert.Equal(t, "10s", cfg.Server.ShutdownTimeout)
	assert.Equal(t, 16, cfg.Console.InputBuffer)
	assert.Equal(t, 128, cfg.Queue.TaskBuffer)
	assert.Equal(t, 256, cfg.Queue.EventBuffer)
	assert.Equal(t, 32, cfg.Queue.SubscriberLimit)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.DebugMode)
}

func TestLoad_EmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Listen, cfg.Server.Listen)
}

func TestLoad_PartialFileBackfilled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nbexec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: "0.0.0.0:9900"
queue:
  subscriber_limit: 4
logging:
  debug_mode: true
  categories:
    queue: true
    dispatch: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9900", cfg.Server.Listen)
	assert.Equal(t, 4, cfg.Queue.SubscriberLimit)
	assert.True(t, cfg.Logging.DebugMode)
	assert.True(t, cfg.Logging.Categories["queue"])
	assert.False(t, cfg.Logging.Categories["dispatch"])

	// Unset values come from the defaults.
	assert.Equal(t, "10s", cfg.Server.ShutdownTimeout)
	assert.Equal(t, 128, cfg.Queue.TaskBuffer)
	assert.Equal(t, 256, cfg.Queue.EventBuffer)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nbexec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`server: [not a map`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NBEXEC_LISTEN", "127.0.0.1:7000")
	t.Setenv("NBEXEC_LOG_DIR", "/tmp/nbexec-logs")
	t.Setenv("NBEXEC_LOG_LEVEL", "debug")
	t.Setenv("NBEXEC_DEBUG", "true")

	path := filepath.Join(t.TempDir(), "nbexec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: "0.0.0.0:9900"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Environment wins over the file.
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Listen)
	assert.Equal(t, "/tmp/nbexec-logs", cfg.Logging.Dir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.DebugMode)
}

func TestLoad_BadDebugEnvIgnored(t *testing.T) {
	t.Setenv("NBEXEC_DEBUG", "definitely")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Logging.DebugMode)
}
