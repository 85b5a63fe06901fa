package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/MicRoom/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_DefaultsWithoutFile(t *testing.T) {
	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Sync.ResyncInterval)
	assert.Equal(t, 8, cfg.Sync.Fanout)
	assert.Equal(t, 250*time.Millisecond, cfg.Voice.ConnectInitialInterval)
}

func TestLoadFile_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
store:
  driver: redis
  key_prefix: "t:"
tasks:
  enabled: true
  concurrency: 2
`), 0o600))
	t.Setenv("MICROOM_PORT", "9100")
	t.Setenv("MICROOM_SYNC_RESYNC_INTERVAL", "5s")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "t:", cfg.Store.KeyPrefix)
	assert.True(t, cfg.Tasks.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Sync.ResyncInterval)
}

func TestLoadFile_RejectsBadDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: mongo\n"), 0o600))
	_, err := config.LoadFile(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: postgres\n"), 0o600))
	_, err = config.LoadFile(path)
	assert.Error(t, err)
}
