package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://en.wikipedia.org/w/api.php", cfg.Wikipedia.BaseURL)
	assert.Equal(t, 500_000_000, int(cfg.Reconstitute.MergeDeadline))
	assert.Equal(t, 1000, cfg.Reconstitute.SizeGateBytes)
	assert.Equal(t, 3, cfg.Reconstitute.MaxConsecutiveTimeouts)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
wikipedia:
  base_url: https://test.wikipedia.org/w/api.php
cache:
  backend: redis
api:
  port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://test.wikipedia.org/w/api.php", cfg.Wikipedia.BaseURL)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 9090, cfg.API.Port)
}

func TestLoadRejectsBadCacheBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  backend: memcached\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestEnvOverridesPort(t *testing.T) {
	t.Setenv("WIKIVANDAL_PORT", "4000")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.API.Port)
}
