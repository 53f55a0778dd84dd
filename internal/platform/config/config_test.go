package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-fed/arbor/internal/platform/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "localhost", cfg.Federation.Domain)
	assert.Equal(t, 10, cfg.Federation.FetchTimeoutSecs)
	assert.Equal(t, 24, cfg.Federation.KeyMaxAgeHours)
	assert.Equal(t, 1, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 300, cfg.Breaker.CooloffSecs)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
federation:
  domain: arbor.example
  blocked_domains:
    - spam.example
    - abuse.example
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "arbor.example", cfg.Federation.Domain)
	assert.Equal(t, []string{"spam.example", "abuse.example"}, cfg.Federation.BlockedDomains)
	// Untouched values keep their defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ARBOR_SERVER_PORT", "7070")
	t.Setenv("ARBOR_FEDERATION_DOMAIN", "env.example")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env.example", cfg.Federation.Domain)
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	cfg, err := config.Load("does-not-exist.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}
