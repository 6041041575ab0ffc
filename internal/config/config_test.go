package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesSpecOptionTable(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 3600*time.Second, cfg.Cache.TTLDefault)
	assert.Equal(t, "", cfg.Cache.NamespacePrefix)
	assert.Equal(t, 10*time.Second, cfg.Stampede.LockTTL)
	assert.Equal(t, 5, cfg.Stampede.MaxAttempts)
	assert.Equal(t, "fail-open", cfg.Stampede.OnTimeout)
	assert.Equal(t, 100, cfg.WriteBehind.BatchSize)
	assert.Equal(t, float32(0.70), cfg.Semantic.SimilarityThreshold)
	assert.Equal(t, 1, cfg.Semantic.KFinal)
	assert.False(t, cfg.Semantic.UseMMR)
	assert.Equal(t, 384, cfg.Semantic.EmbeddingDim)
	assert.Equal(t, "HNSW", cfg.Semantic.ANNAlgorithm)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
cache:
  ttl_default: 60s
  namespace_prefix: tenant-a
semantic:
  similarity_threshold: 0.85
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.Cache.TTLDefault)
	assert.Equal(t, "tenant-a", cfg.Cache.NamespacePrefix)
	assert.Equal(t, float32(0.85), cfg.Semantic.SimilarityThreshold)
	// Untouched sections still carry their defaults.
	assert.Equal(t, 100, cfg.WriteBehind.BatchSize)
}

func TestLoad_EnvOverridesFileAndDefaults(t *testing.T) {
	t.Setenv("AVCACHE_CACHE_NAMESPACE_PREFIX", "from-env")
	t.Setenv("AVCACHE_SEMANTIC_K_FINAL", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Cache.NamespacePrefix)
	assert.Equal(t, 3, cfg.Semantic.KFinal)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestWithNamespace(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "airport:JFK", cfg.WithNamespace("airport:JFK"))

	cfg.Cache.NamespacePrefix = "tenant-a"
	assert.Equal(t, "tenant-a:airport:JFK", cfg.WithNamespace("airport:JFK"))
}
