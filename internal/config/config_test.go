package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, time.Minute, cfg.DataSource.DefaultTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
plugins:
  directory: /var/lib/fabrica/plugins
  hot_reload: true
`), 0o644))

	require.NoError(t, Load(path))
	defer Set(Default())

	cfg := Get()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/fabrica/plugins", cfg.Plugins.Directory)
	assert.True(t, cfg.Plugins.HotReload)
	// Untouched sections keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("FABRICA_PORT", "7070")
	t.Setenv("FABRICA_DATASOURCE_TTL", "5m")

	require.NoError(t, Load(path))
	defer Set(Default())

	cfg := Get()
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.DataSource.DefaultTTL)
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("FABRICA_PORT", "70000")
	err := Load("")
	assert.ErrorContains(t, err, "invalid server port")

	t.Setenv("FABRICA_PORT", "8080")
	t.Setenv("DATABASE_TYPE", "mongodb")
	err = Load("")
	assert.ErrorContains(t, err, "unsupported database type")
}

func TestDerivedSQLitePath(t *testing.T) {
	t.Setenv("FABRICA_DATA_DIR", "/tmp/fabrica-test")
	require.NoError(t, Load(""))
	defer Set(Default())

	cfg := Get()
	assert.Equal(t, filepath.Join("/tmp/fabrica-test", "fabrica.db"), cfg.Database.DatabasePath)
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	require.NoError(t, Load("/nonexistent/config.yaml"))
	defer Set(Default())
	assert.Equal(t, 8080, Get().Server.Port)
}
