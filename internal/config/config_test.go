package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ".evc/evc.db", cfg.DBPath)
	assert.Equal(t, 0.25, cfg.ClusterEps)
	assert.Equal(t, 0.85, cfg.GroupThreshold)
	assert.Equal(t, 4, cfg.MinDistinctNames)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().ClusterEps, cfg.ClusterEps)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /data/events.db
cluster_eps: 0.3
group_threshold: 0.9
countries:
  Iran:
    cluster_eps: 0.2
  Pakistan:
    group_threshold: 0.8
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/events.db", cfg.DBPath)
	assert.Equal(t, 0.3, cfg.ClusterEps)
	assert.Equal(t, 0.9, cfg.GroupThreshold)

	// Per-country resolution
	assert.Equal(t, 0.2, cfg.Clustering("Iran").Eps)
	assert.Equal(t, 0.3, cfg.Clustering("Pakistan").Eps)
	assert.Equal(t, 0.9, cfg.Grouping("Iran").Threshold)
	assert.Equal(t, 0.8, cfg.Grouping("Pakistan").Threshold)
	assert.Equal(t, 0.3, cfg.Clustering("Iraq").Eps, "unknown country inherits globals")
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cluster_eps: 0.3\n"), 0o644))

	t.Setenv("EVC_DB_PATH", "/env/evc.db")
	t.Setenv("EVC_CLUSTER_EPS", "0.18")
	t.Setenv("EVC_MIN_DISTINCT_NAMES", "6")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/env/evc.db", cfg.DBPath)
	assert.Equal(t, 0.18, cfg.ClusterEps)
	assert.Equal(t, 6, cfg.Deconflict().MinDistinctNames)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cluster_eps: -1\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidCountryOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
countries:
  Iran:
    group_threshold: 1.5
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Iran")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cluster_eps: [not a number\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
