package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "uploads", cfg.Files.UploadDir)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "/healthz", cfg.Health.Path)
}

func TestServerConfigAddress(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 9000}
	assert.Equal(t, "127.0.0.1:9000", s.Address())
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := &Config{
		Server:        ServerConfig{Host: "127.0.0.1", Port: 9001},
		Neighbourhood: []string{"127.0.0.1:9002", "127.0.0.1:9003"},
	}
	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", loaded.Server.Host)
	assert.Equal(t, 9001, loaded.Server.Port)
	assert.ElementsMatch(t, []string{"127.0.0.1:9002", "127.0.0.1:9003"}, loaded.Neighbourhood)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateConfiguration(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Port: 70000}, Neighbourhood: []string{""}}
	errs := ValidateConfiguration(cfg)
	assert.Len(t, errs, 2)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OLAF_HOST", "10.0.0.1")
	t.Setenv("OLAF_LOG_LEVEL", "debug")

	cfg := &Config{}
	setDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	assert.Equal(t, "10.0.0.1", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestMain_EnvCleanup(t *testing.T) {
	// clears OLAF_ENV so a value set outside the test run does not leak into later tests
	os.Unsetenv("OLAF_ENV")
}
