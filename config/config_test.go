package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-backend/types"
)

const sampleConfig = `
name: sai-backend
version: 1.2.3
backend:
  api_key: appl_test
  base_url: https://api.example.com
  platform: linux
transport:
  reduced_timeout: 2s
verification:
  mode: enforced
  public_key: "UC0GL1Ir6XRd6xGpnnFJ0Y79lcLRYq79iFwSj8jJz5M="
cache:
  type: leveldb
  config:
    path: /tmp/sai-cache
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	cfg, raw, err := NewLoader().LoadFromFile(context.Background(), writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "appl_test", cfg.Backend.APIKey)
	assert.Equal(t, 2*time.Second, cfg.Transport.ReducedTimeout)
	assert.Equal(t, 30*time.Second, cfg.Transport.DefaultTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Transport.CoolDown)
	assert.Equal(t, types.VerificationEnforced, cfg.Verification.Mode)
	assert.Equal(t, "leveldb", cfg.Cache.Type)
	assert.Equal(t, 5*time.Second, cfg.Dispatcher.JitterMax)
	assert.NotEmpty(t, raw)
}

func TestEnvironmentOverridesAPIKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "appl_env")

	cfg, _, err := NewLoader().LoadFromBytes([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "appl_env", cfg.Backend.APIKey)
}

func TestValidationRejectsMissingAPIKey(t *testing.T) {
	_, _, err := NewLoader().LoadFromBytes([]byte(`
name: x
version: "1"
backend:
  base_url: https://api.example.com
`))
	assert.ErrorIs(t, err, types.ErrConfigValidateFailed)
}

func TestValidationRequiresKeyWhenVerifying(t *testing.T) {
	_, _, err := NewLoader().LoadFromBytes([]byte(`
name: x
version: "1"
backend:
  api_key: k
  base_url: https://api.example.com
verification:
  mode: informational
`))
	assert.ErrorIs(t, err, types.ErrConfigValidateFailed)
}

func TestMissingFile(t *testing.T) {
	_, _, err := NewLoader().LoadFromFile(context.Background(), filepath.Join(t.TempDir(), "nope.yml"))
	assert.ErrorIs(t, err, types.ErrConfigNotFound)
}

func TestManagerPathLookup(t *testing.T) {
	cm, err := NewConfigurationManager(context.Background(), writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/sai-cache", cm.GetValue("cache.config.path", ""))
	assert.Equal(t, "fallback", cm.GetValue("cache.config.missing", "fallback"))

	var backend struct {
		Platform string `yaml:"platform"`
	}
	require.NoError(t, cm.GetAs("backend", &backend))
	assert.Equal(t, "linux", backend.Platform)
}
