package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("OLAF_TEST_VAR", "hello")

	assert.Equal(t, "hello", SubstituteEnvVars("${OLAF_TEST_VAR}"))
	assert.Equal(t, "fallback", SubstituteEnvVars("${OLAF_UNSET_VAR:fallback}"))
	assert.Equal(t, "", SubstituteEnvVars("${OLAF_UNSET_VAR}"))
	assert.Equal(t, "prefix-hello-suffix", SubstituteEnvVars("prefix-${OLAF_TEST_VAR}-suffix"))
}

func TestSubstituteEnvVarsInConfig(t *testing.T) {
	t.Setenv("OLAF_TEST_HOST", "192.168.1.1")

	cfg := &Config{Server: ServerConfig{Host: "${OLAF_TEST_HOST}"}}
	SubstituteEnvVarsInConfig(cfg)

	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
}

func TestGetEnvironment(t *testing.T) {
	t.Setenv("OLAF_ENV", "Production")
	assert.Equal(t, "production", GetEnvironment())
	assert.True(t, IsProduction())
	assert.False(t, IsDevelopment())
}

func TestLoadDotEnvMissingFileIsNotError(t *testing.T) {
	assert.NoError(t, LoadDotEnv("/nonexistent/path/.env"))
}
