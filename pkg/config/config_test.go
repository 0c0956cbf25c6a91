package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_NoFileReturnsDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.True(t, cfg.Memory.Enabled)
	assert.True(t, cfg.Disk.Enabled)
}

func TestLoad_ReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
logging:
  level: debug
  format: json
  output: stderr
shutdown_timeout: 10s
bloom:
  estimated_items: 500000
  false_positive_rate: 0.02
  slot_count: 2
coalescing:
  timeout: 3s
memory:
  enabled: true
  max_bytes: 128Mi
disk:
  enabled: true
  root: /tmp/imagecache-disk
  max_cache_bytes: 5Gi
  soft_watermark: 4Gi
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, int64(500000), cfg.Bloom.EstimatedItems)
	assert.Equal(t, 2, cfg.Bloom.SlotCount)
	assert.Equal(t, "/tmp/imagecache-disk", cfg.Disk.Root)
	assert.Equal(t, uint64(5*1024*1024*1024), cfg.Disk.MaxCacheBytes.Uint64())
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0644))

	t.Setenv("IMAGECACHE_LOGGING_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: bogus\n  format: text\n  output: stdout\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveConfig_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Logging, loaded.Logging)
	assert.Equal(t, cfg.Disk.Root, loaded.Disk.Root)
}

func TestMustLoad_MissingFileReturnsHelpfulError(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}
