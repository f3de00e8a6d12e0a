package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv(ConfigPathEnvVar, "")
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("RANKFUSION_FUSION_K", "30")
	t.Setenv("RANKFUSION_FUSION_ALPHA", "0.7")
	t.Setenv("RANKFUSION_CACHE_TTL", "2m")
	t.Setenv("RANKFUSION_LOG_LEVEL", "debug")
	t.Setenv("RANKFUSION_UNKNOWN_THING", "ignored")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Fusion.K)
	assert.Equal(t, 0.7, cfg.Fusion.Alpha)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFileThenEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "rankfusion.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
diversity:
  lambda: 0.8
  top_k: 10
`), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("RANKFUSION_DIVERSITY_TOP_K", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 0.8, cfg.Diversity.Lambda)
	assert.Equal(t, 3, cfg.Diversity.TopK)
}

func TestLoadRejectsInvalid(t *testing.T) {
	isolate(t)
	t.Setenv("RANKFUSION_DIVERSITY_LAMBDA", "1.5")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Logging.Format = "xml"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Fusion.K = 0
	require.Error(t, cfg.Validate())
}
